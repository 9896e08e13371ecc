// Package mail renders and delivers the verification and password reset
// emails.
//
// Two senders implement the same Send method:
//
//	SMTPSender → gomail over SMTP, used when SMTP_HOST is set
//	LogSender  → writes the link to the log, for local development
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/snippet-keeper/internal/model"
	"gopkg.in/gomail.v2"
)

//go:embed templates/*.html
var templateFS embed.FS

const DefaultFrom = "noreply@example.com"

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// BaseURL is the public origin links point at, e.g. https://snippets.example.com
	BaseURL string
	// Lifetime is shown in the body; it should match the token expiry.
	Lifetime time.Duration
}

// Message is a rendered email.
type Message struct {
	Subject string
	Link    string
	HTML    string
}

type mailKind struct {
	subject string
	path    string
	tmpl    *template.Template
}

// Renderer turns a token into a Message. It is shared by both senders.
type Renderer struct {
	baseURL  string
	lifetime time.Duration
	now      func() time.Time
	kinds    map[model.TokenKind]mailKind
}

func NewRenderer(baseURL string, lifetime time.Duration) (*Renderer, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("mail: BASE_URL %q must be an absolute URL", baseURL)
	}

	verification, err := template.ParseFS(templateFS, "templates/layout.html", "templates/verification.html")
	if err != nil {
		return nil, fmt.Errorf("mail: parsing verification template: %w", err)
	}
	reset, err := template.ParseFS(templateFS, "templates/layout.html", "templates/reset.html")
	if err != nil {
		return nil, fmt.Errorf("mail: parsing reset template: %w", err)
	}

	return &Renderer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		lifetime: lifetime,
		now:      time.Now,
		kinds: map[model.TokenKind]mailKind{
			model.TokenVerification: {subject: "Account Verification", path: "/verify", tmpl: verification},
			model.TokenReset:        {subject: "Reset Password", path: "/reset-password", tmpl: reset},
		},
	}, nil
}

// Render builds the message for kind. The link is BASE_URL + path + ?token=.
func (r *Renderer) Render(kind model.TokenKind, token string) (*Message, error) {
	mk, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("mail: unknown token kind %q", kind)
	}
	link := r.baseURL + mk.path + "?token=" + url.QueryEscape(token)

	var buf bytes.Buffer
	err := mk.tmpl.ExecuteTemplate(&buf, "layout", struct {
		Link     string
		Lifetime string
		Year     int
	}{link, humanize(r.lifetime), r.now().Year()})
	if err != nil {
		return nil, fmt.Errorf("mail: rendering %s mail: %w", kind, err)
	}
	return &Message{Subject: mk.subject, Link: link, HTML: buf.String()}, nil
}

func humanize(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	default:
		return fmt.Sprintf("%d minutes", int(d.Round(time.Minute)/time.Minute))
	}
}

// =========================================================================
// SMTP
// =========================================================================

// dialer is the part of *gomail.Dialer we use. Tests swap it out.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPSender struct {
	renderer *Renderer
	from     string
	dialer   dialer
	logger   *slog.Logger
}

func NewSMTPSender(cfg Config, logger *slog.Logger) (*SMTPSender, error) {
	r, err := NewRenderer(cfg.BaseURL, cfg.Lifetime)
	if err != nil {
		return nil, err
	}
	from := cfg.From
	if from == "" {
		from = DefaultFrom
	}
	return &SMTPSender{
		renderer: r,
		from:     from,
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger:   logger,
	}, nil
}

// Send renders and delivers one mail. gomail has no context support, so ctx
// is only checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, to string, kind model.TokenKind, token string) error {
	msg, err := s.renderer.Render(kind, token)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("mail: sending %s mail: %w", kind, err)
	}
	s.logger.Debug("mail sent", slog.String("kind", string(kind)), slog.String("to", to))
	return nil
}

// =========================================================================
// LOG
// =========================================================================

// LogSender logs the link instead of mailing it.
type LogSender struct {
	renderer *Renderer
	logger   *slog.Logger
}

func NewLogSender(baseURL string, lifetime time.Duration, logger *slog.Logger) (*LogSender, error) {
	r, err := NewRenderer(baseURL, lifetime)
	if err != nil {
		return nil, err
	}
	return &LogSender{renderer: r, logger: logger}, nil
}

func (s *LogSender) Send(ctx context.Context, to string, kind model.TokenKind, token string) error {
	msg, err := s.renderer.Render(kind, token)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "mail not sent, SMTP disabled",
		slog.String("to", to),
		slog.String("subject", msg.Subject),
		slog.String("link", msg.Link),
	)
	return nil
}
