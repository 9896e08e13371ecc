package model

import "fmt"

// TokenKind names one of the two email-delivered token flows.
type TokenKind string

const (
	TokenVerification TokenKind = "verification"
	TokenReset        TokenKind = "reset"
)

// ParseTokenKind converts user input into a TokenKind.
func ParseTokenKind(s string) (TokenKind, error) {
	switch TokenKind(s) {
	case TokenVerification, TokenReset:
		return TokenKind(s), nil
	}
	return "", fmt.Errorf("unknown token kind %q", s)
}
