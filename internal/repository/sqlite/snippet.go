package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/snippet-keeper/internal/apperror"
	"github.com/sakif/snippet-keeper/internal/model"
	"github.com/sakif/snippet-keeper/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// If *DB stops satisfying repository.SnippetRepository, this line fails to
// compile, long before anything tries to use it as one.
var _ repository.SnippetRepository = (*DB)(nil)

const snippetColumns = `id, user_id, title, description, code, created_at, updated_at`

func scanSnippet(row rowScanner) (*model.Snippet, error) {
	var (
		s                    model.Snippet
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.Title, &s.Description, &s.Code,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	s.CreatedAt = time.UnixMilli(createdAt).UTC()
	s.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &s, nil
}

// CreateSnippet inserts a new snippet into the database.
//
// ID GENERATION WITH xid:
// xid IDs are 20 URL-safe characters and sort by creation time, which is
// why ListSnippetsByUser can use the id as a tie-breaker for snippets
// created within the same millisecond.
func (db *DB) CreateSnippet(ctx context.Context, snippet *model.Snippet) error {
	snippet.ID = xid.New().String()

	now := time.Now().UTC().Truncate(time.Millisecond)
	snippet.CreatedAt = now
	snippet.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO snippets (`+snippetColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snippet.ID,
		snippet.UserID,
		snippet.Title,
		snippet.Description,
		snippet.Code,
		snippet.CreatedAt.UnixMilli(),
		snippet.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating snippet: %w", err)
	}

	return nil
}

// GetSnippet retrieves a single snippet by its ID.
// sql.ErrNoRows is translated into the app's NotFound error so the handler
// knows to answer 404.
func (db *DB) GetSnippet(ctx context.Context, id string) (*model.Snippet, error) {
	snippet, err := scanSnippet(db.conn.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE id = ?`, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, fmt.Errorf("sqlite: getting snippet %s: %w", id, err)
	}
	return snippet, nil
}

// ListSnippetsByUser returns one page of userID's snippets, newest first.
//
// LIMIT/OFFSET pagination:
// page 3 with 10 items per page → LIMIT 10 OFFSET 20. Simple, and fine for
// per-user collections of this size.
func (db *DB) ListSnippetsByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Snippet, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100 // hard cap on page size
	}

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+snippetColumns+`
		 FROM snippets
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing snippets: %w", err)
	}
	// CRITICAL: always close rows when done! An unclosed *sql.Rows keeps its
	// connection out of the pool.
	defer rows.Close()

	snippets := make([]model.Snippet, 0, limit)
	for rows.Next() {
		s, err := scanSnippet(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning snippet row: %w", err)
		}
		snippets = append(snippets, *s)
	}

	// rows.Err() catches failures that happened during iteration.
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating snippets: %w", err)
	}

	return snippets, nil
}

func (db *DB) CountSnippetsByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snippets WHERE user_id = ?`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting snippets: %w", err)
	}
	return n, nil
}

// UpdateSnippet modifies title, description and code. id, user_id and
// created_at are immutable.
func (db *DB) UpdateSnippet(ctx context.Context, snippet *model.Snippet) error {
	snippet.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)

	result, err := db.conn.ExecContext(ctx,
		`UPDATE snippets
		 SET title = ?, description = ?, code = ?, updated_at = ?
		 WHERE id = ?`,
		snippet.Title,
		snippet.Description,
		snippet.Code,
		snippet.UpdatedAt.UnixMilli(),
		snippet.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating snippet %s: %w", snippet.ID, err)
	}
	return requireAffected(result, "snippet", snippet.ID)
}

func (db *DB) DeleteSnippet(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM snippets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting snippet %s: %w", id, err)
	}
	return requireAffected(result, "snippet", id)
}

// DeleteSnippetsByUser removes all of userID's snippets. Zero is not an error.
func (db *DB) DeleteSnippetsByUser(ctx context.Context, userID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM snippets WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting snippets of user %s: %w", userID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
