package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/snippet-keeper/internal/apperror"
	"github.com/sakif/snippet-keeper/internal/auth"
	"github.com/sakif/snippet-keeper/internal/service"
)

// SnippetHandler manages CRUD operations for the signed-in user's snippets.
//
// All routes sit behind auth.RequireAuth. The owner is always taken from
// the session, never from the request body, so one user cannot write into
// another user's collection.
type SnippetHandler struct {
	snippets *service.SnippetService
	logger   *slog.Logger
}

// NewSnippetHandler creates a new SnippetHandler.
func NewSnippetHandler(snippets *service.SnippetService, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{snippets: snippets, logger: logger}
}

type snippetRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

func (req snippetRequest) params() service.SnippetParams {
	return service.SnippetParams{Title: req.Title, Description: req.Description, Code: req.Code}
}

// owner returns the session user, answering 401 when there is none.
func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
	}
	return id, ok
}

// HandleList returns one page of the user's snippets, newest first.
//
// HTTP: GET /api/snippets?page=1&limit=10
//
// RESPONSE FORMAT:
//
//	{
//	  "success": true,
//	  "snippets": [{"id":"...","title":"...","code":"...", ...}],
//	  "totalSnippets": 23, "page": 1, "limit": 10, "totalPages": 3
//	}
//
// Missing or malformed page/limit values fall back to the defaults.
func (h *SnippetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := owner(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.snippets.List(r.Context(), userID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Snippets fetched", map[string]any{
		"snippets":      result.Snippets,
		"totalSnippets": result.Total,
		"page":          result.Page,
		"limit":         result.Limit,
		"totalPages":    result.TotalPages,
	})
}

// HandleGet returns a single snippet.
//
// HTTP: GET /api/snippets/{id}
//
// URL PARAMETERS:
// r.PathValue("id") reads the {id} segment of the chi route.
func (h *SnippetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := owner(w, r)
	if !ok {
		return
	}

	snippet, err := h.snippets.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Snippet fetched", map[string]any{"snippet": snippet})
}

// HandleCreate saves a new snippet.
//
// HTTP: POST /api/snippets
// REQUEST BODY: {"title": "hello", "description": "", "code": "print('hi')"}
func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := owner(w, r)
	if !ok {
		return
	}

	var req snippetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	snippet, err := h.snippets.Create(r.Context(), userID, req.params())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Snippet created", map[string]any{"snippet": snippet})
}

// HandleUpdate replaces the title, description and code of a snippet.
//
// HTTP: PUT /api/snippets/{id}
func (h *SnippetHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := owner(w, r)
	if !ok {
		return
	}

	var req snippetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	snippet, err := h.snippets.Update(r.Context(), userID, r.PathValue("id"), req.params())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Snippet updated", map[string]any{"snippet": snippet})
}

// HandleDelete removes a snippet.
//
// HTTP: DELETE /api/snippets/{id}
func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := owner(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, apperror.ValidationFailed("id", "Snippet ID is required"))
		return
	}

	if err := h.snippets.Delete(r.Context(), userID, id); err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("snippet deleted", slog.String("id", id), slog.String("user_id", userID))
	writeSuccess(w, http.StatusOK, "Snippet deleted", nil)
}
