// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// The service layer knows nothing about HTTP. It takes primitive values and
// returns model types plus *apperror.AppError values; the handler decides
// which status code an error becomes.
//
// THE DEPENDENCY CHAIN:
//
//	main.go creates:  DB → Repository → Service → Handler
//	At runtime:       Handler calls Service calls Repository calls DB
//
// Services take repository interfaces, never *sqlite.DB, so the tests in
// this package run against in-memory fakes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/sakif/snippet-keeper/internal/apperror"
	"github.com/sakif/snippet-keeper/internal/model"
	"github.com/sakif/snippet-keeper/internal/repository"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// SnippetService handles business logic for code snippets.
//
// OWNERSHIP:
// Every operation takes the acting user's ID and fails with ErrForbidden on
// a snippet owned by someone else.
type SnippetService struct {
	repo   repository.SnippetRepository
	logger *slog.Logger
}

func NewSnippetService(repo repository.SnippetRepository, logger *slog.Logger) *SnippetService {
	return &SnippetService{
		repo:   repo,
		logger: logger,
	}
}

// SnippetParams is the user-editable part of a snippet.
type SnippetParams struct {
	Title       string
	Description string
	Code        string
}

func (p SnippetParams) input() snippetInput {
	return snippetInput{
		Title:       strings.TrimSpace(p.Title),
		Description: strings.TrimSpace(p.Description),
		Code:        p.Code,
	}
}

// Create validates and saves a new snippet owned by userID.
func (s *SnippetService) Create(ctx context.Context, userID string, p SnippetParams) (*model.Snippet, error) {
	in := p.input()
	if err := validateInput(in); err != nil {
		return nil, err
	}

	snippet := &model.Snippet{
		Title:       in.Title,
		Description: in.Description,
		Code:        in.Code,
		UserID:      userID,
	}
	if err := s.repo.CreateSnippet(ctx, snippet); err != nil {
		s.logger.Error("failed to create snippet",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating snippet: %w", err)
	}

	s.logger.Info("snippet created",
		slog.String("id", snippet.ID),
		slog.String("userID", userID),
	)
	return snippet, nil
}

// Get returns the snippet if userID owns it.
func (s *SnippetService) Get(ctx context.Context, userID, id string) (*model.Snippet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "snippet ID is required")
	}

	snippet, err := s.repo.GetSnippet(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fetching snippet %s: %w", id, err)
	}
	if snippet.UserID != userID {
		return nil, apperror.Forbidden("you do not own this snippet")
	}
	return snippet, nil
}

// List returns one page of userID's snippets, newest first.
//
// PAGINATION:
// page is 1-based. limit defaults to DefaultPageLimit and is capped at
// MaxPageLimit. A page past the end is empty, not an error.
//
//	page 3, limit 10 → offset 20
func (s *SnippetService) List(ctx context.Context, userID string, page, limit int) (*model.SnippetPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	// keep (page-1)*limit inside int
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}

	total, err := s.repo.CountSnippetsByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to count snippets", slog.String("error", err.Error()))
		return nil, fmt.Errorf("counting snippets: %w", err)
	}

	snippets, err := s.repo.ListSnippetsByUser(ctx, userID, repository.ListOptions{
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		s.logger.Error("failed to list snippets", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing snippets: %w", err)
	}
	if snippets == nil {
		snippets = []model.Snippet{}
	}

	return &model.SnippetPage{
		Snippets:   snippets,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// Update replaces the editable fields of a snippet userID owns.
func (s *SnippetService) Update(ctx context.Context, userID, id string, p SnippetParams) (*model.Snippet, error) {
	snippet, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	in := p.input()
	if err := validateInput(in); err != nil {
		return nil, err
	}
	snippet.Title = in.Title
	snippet.Description = in.Description
	snippet.Code = in.Code

	if err := s.repo.UpdateSnippet(ctx, snippet); err != nil {
		s.logger.Error("failed to update snippet",
			slog.String("id", snippet.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating snippet: %w", err)
	}

	s.logger.Info("snippet updated", slog.String("id", snippet.ID))
	return snippet, nil
}

// Delete removes a snippet userID owns.
func (s *SnippetService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.DeleteSnippet(ctx, id); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("deleting snippet: %w", err)
	}

	s.logger.Info("snippet deleted", slog.String("id", id))
	return nil
}
