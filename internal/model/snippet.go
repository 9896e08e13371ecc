package model

import "time"

// Snippet is a saved piece of code owned by exactly one user.
type Snippet struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Code        string    `json:"code"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SnippetPage is one page of a user's snippets, newest first.
type SnippetPage struct {
	Snippets   []Snippet `json:"snippets"`
	Total      int       `json:"totalSnippets"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	TotalPages int       `json:"totalPages"`
}
