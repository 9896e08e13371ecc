package handler_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippet-keeper/internal/model"
)

type snippetBody struct {
	Snippet model.Snippet
}

func createSnippet(t *testing.T, api *testAPI, session, title string) model.Snippet {
	t.Helper()
	rr := api.do(t, http.MethodPost, "/api/snippets", map[string]string{
		"title": title, "description": "a note", "code": "print('hi')",
	}, session)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[snippetBody](t, rr).Snippet
}

func TestSnippets_RequireSession(t *testing.T) {
	api := newTestAPI(t)
	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/api/snippets"},
		{http.MethodPost, "/api/snippets"},
		{http.MethodGet, "/api/snippets/abc"},
		{http.MethodPut, "/api/snippets/abc"},
		{http.MethodDelete, "/api/snippets/abc"},
	} {
		rr := api.do(t, tt.method, tt.path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", tt.method, tt.path)
	}
}

func TestSnippets_CRUD(t *testing.T) {
	api := newTestAPI(t)
	session := api.signUp(t, "ada@example.com")

	created := createSnippet(t, api, session, "  hello  ")
	assert.Equal(t, "hello", created.Title)
	assert.NotEmpty(t, created.ID)

	rr := api.do(t, http.MethodGet, "/api/snippets/"+created.ID, nil, session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, created.ID, decode[snippetBody](t, rr).Snippet.ID)

	rr = api.do(t, http.MethodPut, "/api/snippets/"+created.ID, map[string]string{
		"title": "renamed", "code": "print('bye')",
	}, session)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[snippetBody](t, rr).Snippet
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, "print('bye')", updated.Code)

	rr = api.do(t, http.MethodDelete, "/api/snippets/"+created.ID, nil, session)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = api.do(t, http.MethodGet, "/api/snippets/"+created.ID, nil, session)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decode[envelope](t, rr).Error)
}

func TestSnippets_Validation(t *testing.T) {
	api := newTestAPI(t)
	session := api.signUp(t, "ada@example.com")

	tests := []struct {
		name  string
		body  map[string]string
		field string
	}{
		{"missing title", map[string]string{"code": "x"}, "title"},
		{"long title", map[string]string{"title": strings.Repeat("a", 101)}, "title"},
		{"long description", map[string]string{"title": "ok", "description": strings.Repeat("d", 1001)}, "description"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/api/snippets", tt.body, session)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			body := decode[envelope](t, rr)
			assert.Equal(t, "validation_error", body.Error)
			assert.Equal(t, tt.field, body.Field)
		})
	}
}

func TestSnippets_Ownership(t *testing.T) {
	api := newTestAPI(t)
	ada := api.signUp(t, "ada@example.com")
	grace := api.signUp(t, "grace@example.com")

	mine := createSnippet(t, api, ada, "ada's")

	for _, tt := range []struct {
		method string
		body   any
	}{
		{http.MethodGet, nil},
		{http.MethodPut, map[string]string{"title": "stolen"}},
		{http.MethodDelete, nil},
	} {
		rr := api.do(t, tt.method, "/api/snippets/"+mine.ID, tt.body, grace)
		assert.Equal(t, http.StatusForbidden, rr.Code, tt.method)
	}

	rr := api.do(t, http.MethodGet, "/api/snippets", nil, grace)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[struct{ Snippets []model.Snippet }](t, rr).Snippets)

	rr = api.do(t, http.MethodGet, "/api/snippets/"+mine.ID, nil, ada)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSnippets_ListPagination(t *testing.T) {
	api := newTestAPI(t)
	session := api.signUp(t, "ada@example.com")
	for _, title := range []string{"one", "two", "three"} {
		createSnippet(t, api, session, title)
	}

	type page struct {
		Snippets      []model.Snippet
		TotalSnippets int
		Page          int
		Limit         int
		TotalPages    int
	}

	rr := api.do(t, http.MethodGet, "/api/snippets?page=2&limit=2", nil, session)
	require.Equal(t, http.StatusOK, rr.Code)
	p := decode[page](t, rr)
	assert.Equal(t, 3, p.TotalSnippets)
	assert.Equal(t, 2, p.Page)
	assert.Equal(t, 2, p.Limit)
	assert.Equal(t, 2, p.TotalPages)
	require.Len(t, p.Snippets, 1)
	assert.Equal(t, "one", p.Snippets[0].Title, "oldest snippet lands on the last page")

	rr = api.do(t, http.MethodGet, "/api/snippets?page=abc&limit=", nil, session)
	require.Equal(t, http.StatusOK, rr.Code)
	p = decode[page](t, rr)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 10, p.Limit)
	assert.Len(t, p.Snippets, 3)
}
