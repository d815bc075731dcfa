// Package admin gates the verification surface. Operators exchange the admin
// API secret for a short-lived session token; the verify route only accepts
// requests carrying a valid token.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"electorate/internal/audit"
	dErrors "electorate/pkg/domain-errors"
)

// DefaultSessionTTL bounds how long one login is good for.
const DefaultSessionTTL = 15 * time.Minute

const (
	tokenIssuer   = "electorate"
	tokenAudience = "electorate-admin"
)

// Claims are the session token claims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Session is a granted admin session.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Service issues and validates admin session tokens. The admin secret is
// configured as a bcrypt hash; tokens are HS256 JWTs under a separate
// signing key.
type Service struct {
	secretHash string
	signingKey []byte
	ttl        time.Duration
	auditor    audit.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithSessionTTL sets the token lifetime.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithAuditor installs the audit recorder.
func WithAuditor(rec audit.Recorder) Option {
	return func(s *Service) { s.auditor = rec }
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the admin service. secretHash is the bcrypt hash of the
// admin API secret; signingKey signs session tokens.
func NewService(secretHash string, signingKey []byte, logger *slog.Logger, opts ...Option) (*Service, error) {
	if secretHash == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "admin secret hash cannot be empty")
	}
	if len(signingKey) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "session signing key cannot be empty")
	}
	s := &Service{
		secretHash: secretHash,
		signingKey: signingKey,
		ttl:        DefaultSessionTTL,
		auditor:    audit.NopRecorder{},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login exchanges the admin secret for a session token. Failed attempts are
// audited with the caller's metadata; the error never says whether the
// secret was close.
func (s *Service) Login(ctx context.Context, secret, clientIP, userAgent string) (*Session, error) {
	now := s.now()

	event := audit.New(audit.ActionAdminLogin, now)
	event.ClientIP = clientIP
	event.UserAgent = userAgent

	if err := verifySecret(secret, s.secretHash); err != nil {
		event.Outcome = "denied"
		s.auditor.Record(ctx, event)
		s.logger.Warn("admin login denied", slog.String("client_ip", clientIP))
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not verify admin secret")
	}

	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Audience:  []string{tokenAudience},
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not sign session token")
	}

	event.Outcome = "granted"
	s.auditor.Record(ctx, event)
	return &Session{Token: signed, ExpiresAt: expiresAt}, nil
}

// ValidateToken checks a session token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "session has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Role != "admin" {
		return nil, dErrors.New(dErrors.CodeForbidden, "token does not grant admin access")
	}
	return claims, nil
}
