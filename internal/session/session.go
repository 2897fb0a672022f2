// Package session holds the signed-in user's identity for one chat view.
// A Session is built once from the bearer token and passed explicitly to
// the components that need it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/johndosdos/clubchat/internal/model"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type ContextKey string

const SessionKey ContextKey = "session"

var ErrInvalidToken = errors.New("invalid token")

// Session is read-only once constructed.
type Session struct {
	Token       string
	UserID      string
	Email       string
	GroupID     int64
	DisplayName string
	Role        Role
	ExpiresAt   time.Time
}

// Claims mirrors the backend's access token payload.
type Claims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email,omitempty"`
	GroupID int64  `json:"group_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// FromToken decodes the claims of token without verifying its signature.
// The client never holds the signing key; the server remains the authority
// and rejects a forged token on the first request.
func FromToken(token string) (*Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, fmt.Errorf("internal/session: %w: empty token", ErrInvalidToken)
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("internal/session: %w: %v", ErrInvalidToken, err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, fmt.Errorf("internal/session: %w: user_id claim is missing", ErrInvalidToken)
	}

	s := &Session{
		Token:   token,
		UserID:  userID,
		Email:   claims.Email,
		GroupID: claims.GroupID,
		Role:    Role(strings.ToLower(claims.Role)),
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}

	return s, nil
}

// Profile is the subset of the /api/auth/me response that refines a Session.
type Profile struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	GroupID     *int64 `json:"group_id"`
	Role        string `json:"role"`
}

// WithProfile returns a copy of s refined by p. The server's view of the
// role wins over the one baked into the token.
func (s *Session) WithProfile(p Profile) *Session {
	out := *s
	if p.DisplayName != "" {
		out.DisplayName = p.DisplayName
	}
	if p.Email != "" {
		out.Email = p.Email
	}
	if p.GroupID != nil {
		out.GroupID = *p.GroupID
	}
	if p.Role != "" {
		out.Role = Role(strings.ToLower(p.Role))
	}
	return &out
}

func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// IsMine reports whether msg was sent by the session's user.
func (s *Session) IsMine(msg model.Message) bool {
	return s != nil && msg.UserID != "" && msg.UserID == s.UserID
}

// CanDelete reports whether the delete control for msg is offered. The
// server enforces the same rule independently.
func (s *Session) CanDelete(msg model.Message) bool {
	return s.IsMine(msg) || s.IsAdmin()
}

// Name is what the user is called in the UI.
func (s *Session) Name() string {
	switch {
	case s.DisplayName != "":
		return s.DisplayName
	case s.Email != "":
		return s.Email
	default:
		return s.UserID
	}
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, SessionKey, s)
}

func FromContext(ctx context.Context) (*Session, error) {
	s, ok := ctx.Value(SessionKey).(*Session)
	if !ok || s == nil {
		return nil, errors.New("internal/session: no session in context")
	}
	return s, nil
}
