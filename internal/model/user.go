// Package model defines the data structures used throughout the application.
package model

import "time"

// User is the identity aggregate.
//
// PasswordHash is nil for accounts created through an OAuth provider. Those
// users never went through the email verification flow, so they are created
// with IsVerified already set.
//
// WHY POINTERS FOR THE TOKEN FIELDS?
// A token is either present or absent. Using nil for "absent" maps directly
// onto NULL in the database and avoids treating "" as a real token.
type User struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Image        string  `json:"image,omitempty"` // avatar URI, may be empty
	PasswordHash *string `json:"-"`
	IsVerified   bool    `json:"isVerified"`
	IsAdmin      bool    `json:"isAdmin"`

	VerificationToken          *string    `json:"-"`
	VerificationTokenExpires   *time.Time `json:"-"`
	ForgotPasswordToken        *string    `json:"-"`
	ForgotPasswordTokenExpires *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasPassword reports whether the user can sign in with credentials.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// HasActiveResetToken reports whether a reset token was issued and has not
// yet expired at now.
func (u *User) HasActiveResetToken(now time.Time) bool {
	return u.ForgotPasswordToken != nil &&
		u.ForgotPasswordTokenExpires != nil &&
		!u.ForgotPasswordTokenExpires.Before(now)
}

// VerificationExpired reports whether the user has no usable verification
// token at now, either because none was issued or because it lapsed.
func (u *User) VerificationExpired(now time.Time) bool {
	return u.VerificationTokenExpires == nil || u.VerificationTokenExpires.Before(now)
}
