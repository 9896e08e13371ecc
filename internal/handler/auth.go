package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/sakif/snippet-keeper/internal/apperror"
	"github.com/sakif/snippet-keeper/internal/auth"
	"github.com/sakif/snippet-keeper/internal/media"
	"github.com/sakif/snippet-keeper/internal/model"
	"github.com/sakif/snippet-keeper/internal/service"
)

// MediaUploader stores avatar images. *media.S3Store and media.Noop satisfy it.
type MediaUploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// AuthHandler serves the credential side of the account lifecycle.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister       → create an account and mail a verification link
//   - HandleLogin/Logout   → start and end the cookie session
//   - HandleVerify*        → check and consume verification tokens
//   - HandleForgotPassword → mail a reset link
//   - HandleResetPassword* → check and consume reset tokens
//   - HandleResend         → mail a fresh token of either kind
//   - HandleDeleteAccount  → remove an account and everything it owns
//   - HandleMe/UpdateMe    → read and edit the signed-in user's profile
//
// DEPENDENCY CHAIN:
//   - accounts *service.AccountService → all business rules
//   - sessions *auth.Sessions          → the session cookie
//   - uploads  MediaUploader           → avatar images sent with registration
type AuthHandler struct {
	accounts *service.AccountService
	sessions *auth.Sessions
	uploads  MediaUploader
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. All dependencies are injected here;
// the handler has no knowledge of how they're constructed.
func NewAuthHandler(
	accounts *service.AccountService,
	sessions *auth.Sessions,
	uploads MediaUploader,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		sessions: sessions,
		uploads:  uploads,
		logger:   logger,
	}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Image     string `json:"-"` // set only by a multipart upload
}

// fullName prefers an explicit name and falls back to "first last".
func (req registerRequest) fullName() string {
	if n := strings.TrimSpace(req.Name); n != "" {
		return n
	}
	return strings.TrimSpace(strings.TrimSpace(req.FirstName) + " " + strings.TrimSpace(req.LastName))
}

// HandleRegister creates a credential account.
//
// HTTP: POST /api/auth/register
//
// Two body formats are accepted:
//   - application/json: {"email", "password", "firstName", "lastName"} or {"name", ...}
//   - multipart/form-data: the same fields plus an optional "profileImage" file
//
// The image is uploaded before the account is created. If registration then
// fails, the upload is removed again.
//
// A failed verification mail does not undo the account: the response is a
// 502 and the user can ask for a new link with HandleResend later.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := h.readRegisterForm(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), service.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.fullName(),
		Image:    req.Image,
	})
	if err != nil {
		if user == nil && req.Image != "" {
			h.discardUpload(r.Context(), req.Image)
		}
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "User registered successfully. Check your inbox to verify your email.", map[string]any{
		"user": user,
	})
}

// readRegisterForm parses a multipart registration and uploads the avatar.
//
// MULTIPART LIMITS:
// ParseMultipartForm keeps up to maxMemory bytes in RAM and spills the rest
// to temp files. MaxBytesReader puts a hard ceiling on the whole body so a
// huge upload is rejected before it is fully read.
func (h *AuthHandler) readRegisterForm(w http.ResponseWriter, r *http.Request, req *registerRequest) error {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxAvatarBytes+maxJSONBody)
	if err := r.ParseMultipartForm(media.MaxAvatarBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperror.ValidationFailed("profileImage", "Profile image must be 5MB or smaller")
		}
		return apperror.ValidationFailed("body", "Invalid form body")
	}

	req.Email = r.FormValue("email")
	req.Password = r.FormValue("password")
	req.Name = r.FormValue("name")
	req.FirstName = r.FormValue("firstName")
	req.LastName = r.FormValue("lastName")

	file, header, err := r.FormFile("profileImage")
	if errors.Is(err, http.ErrMissingFile) {
		return nil
	}
	if err != nil {
		return apperror.ValidationFailed("profileImage", "Invalid profile image")
	}
	defer file.Close()

	url, err := h.uploadAvatar(r.Context(), file, header)
	if err != nil {
		return err
	}
	req.Image = url
	return nil
}

// uploadAvatar checks size and type, then stores the image.
//
// The content type is sniffed from the first 512 bytes rather than trusted
// from the client's header.
func (h *AuthHandler) uploadAvatar(ctx context.Context, file multipart.File, header *multipart.FileHeader) (string, error) {
	if header.Size > media.MaxAvatarBytes {
		return "", apperror.ValidationFailed("profileImage", "Profile image must be 5MB or smaller")
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", apperror.ValidationFailed("profileImage", "Invalid profile image")
	}
	contentType := http.DetectContentType(head[:n])
	if !strings.HasPrefix(contentType, "image/") {
		return "", apperror.ValidationFailed("profileImage", "Profile image must be an image")
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	url, err := h.uploads.Upload(ctx, media.NewAvatarKey(header.Filename), contentType, file)
	if err != nil {
		if errors.Is(err, media.ErrTooLarge) {
			return "", apperror.ValidationFailed("profileImage", "Profile image must be 5MB or smaller")
		}
		if errors.Is(err, media.ErrUploadsDisabled) {
			return "", apperror.ValidationFailed("profileImage", "Profile images are not supported on this server")
		}
		return "", err
	}
	return url, nil
}

func (h *AuthHandler) discardUpload(ctx context.Context, url string) {
	if err := h.uploads.Delete(ctx, url); err != nil {
		h.logger.Warn("failed to remove orphaned avatar", slog.String("image", url), slog.String("error", err.Error()))
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin signs in with email and password and sets the session cookie.
//
// HTTP: POST /api/auth/login
// REQUEST BODY: {"email": "ada@example.com", "password": "..."}
//
// An unverified account answers 403 not_verified. If its verification link
// had already lapsed, a new one has been mailed by the time the response
// arrives.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.sessions.Set(w, res.Token)
	writeSuccess(w, http.StatusOK, "Logged in successfully", map[string]any{"user": res.User})
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /api/auth/logout
//
// WHY POST AND NOT GET?
// Logout is a state-changing operation. Using GET would be vulnerable to
// CSRF and to browsers pre-fetching the URL.
//
// Since sessions are stateless (JWT), "logout" just means deleting the
// client-side cookie.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.End(w)
	writeSuccess(w, http.StatusOK, "Logged out", nil)
}

type tokenRequest struct {
	Token string `json:"token"`
}

// HandleCheckVerification reports whether a verification token exists.
// It does not consume the token.
//
// HTTP: GET /api/auth/verify?token=...
func (h *AuthHandler) HandleCheckVerification(w http.ResponseWriter, r *http.Request) {
	exists, err := h.accounts.CheckVerificationToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Token checked", map[string]any{"exists": exists})
}

// HandleVerify consumes a verification token and marks the account verified.
//
// HTTP: POST /api/auth/verify
// REQUEST BODY: {"token": "..."}
//
// If the caller is signed in as the account being verified, the session is
// reissued so the new verification flag takes effect immediately.
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.VerifyToken(r.Context(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	if id, ok := auth.UserIDFromContext(r.Context()); ok && id == user.ID {
		if _, err := h.sessions.Start(w, user); err != nil {
			h.logger.Warn("failed to refresh session after verification", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		}
	}
	writeSuccess(w, http.StatusOK, "Email verified successfully", nil)
}

type emailRequest struct {
	Email string `json:"email"`
}

// HandleForgotPassword mails a reset link.
//
// HTTP: POST /api/auth/forgot-password
// REQUEST BODY: {"email": "ada@example.com"}
//
// If an unexpired link is already out, no new mail is sent and the response
// says so.
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	sent, err := h.accounts.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	msg := "Reset link sent to your email"
	if !sent {
		msg = "A reset link was already sent. Check your inbox."
	}
	writeSuccess(w, http.StatusOK, msg, map[string]any{"sent": sent})
}

// HandleValidateReset reports whether a reset token is usable.
//
// HTTP: GET /api/auth/reset-password?token=...
// RESPONSE: {"success": true, "isValid": true, "isExpired": false, ...}
func (h *AuthHandler) HandleValidateReset(w http.ResponseWriter, r *http.Request) {
	status, err := h.accounts.ValidateResetToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Token checked", map[string]any{
		"isValid":   status.Valid,
		"isExpired": status.Expired,
	})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// HandleResetPassword sets a new password using a reset token.
//
// HTTP: POST /api/auth/reset-password
// REQUEST BODY: {"token": "...", "password": "..."}
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.UpdatePassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Password updated successfully", nil)
}

type resendRequest struct {
	Token string `json:"token"`
	Type  string `json:"type"` // "verification" or "reset"
}

// HandleResend mails a fresh token to the owner of an existing one.
//
// HTTP: POST /api/auth/resend
// REQUEST BODY: {"token": "<old token>", "type": "verification"}
//
// The old token may be expired; that is the usual reason to call this.
func (h *AuthHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	kind, err := model.ParseTokenKind(req.Type)
	if err != nil {
		writeError(w, apperror.ValidationFailed("type", `type must be "verification" or "reset"`))
		return
	}

	if err := h.accounts.ResendMail(r.Context(), req.Token, kind); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "A new link was sent to your email", nil)
}

// HandleDeleteAccount removes an account with its snippets, provider links
// and avatar.
//
// HTTP: DELETE /api/auth/account[?id=<userID>]
// Auth: Required
//
// Without ?id the caller's own account is deleted and the session ends.
// Deleting someone else's account requires the admin flag.
func (h *AuthHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	target := r.URL.Query().Get("id")
	if target == "" {
		target = claims.UserID()
	}
	self := target == claims.UserID()
	if !self && !claims.IsAdmin {
		writeError(w, apperror.Forbidden("only admins can delete other accounts"))
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), target); err != nil {
		writeError(w, err)
		return
	}

	if self {
		h.sessions.End(w)
	}
	h.logger.Info("account deleted via API",
		slog.String("target", target),
		slog.String("by", claims.UserID()),
	)
	writeSuccess(w, http.StatusOK, "Account deleted successfully", nil)
}

// HandleMe returns the signed-in user's profile.
//
// HTTP: GET /api/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := owner(w, r)
	if !ok {
		return
	}

	user, err := h.accounts.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OK", map[string]any{"user": user})
}

type updateProfileRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// HandleUpdateMe edits the signed-in user's name and avatar URL.
//
// HTTP: PATCH /api/me
// REQUEST BODY: {"name": "Ada Lovelace", "image": "https://..."}
//
// The session is reissued so the new name shows up in the claims.
func (h *AuthHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := owner(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), userID, req.Name, req.Image)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.sessions.Start(w, user); err != nil {
		h.logger.Warn("failed to refresh session after profile update", slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}
	writeSuccess(w, http.StatusOK, "Profile updated", map[string]any{"user": user})
}
