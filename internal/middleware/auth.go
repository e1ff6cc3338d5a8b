package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
)

type contextKey string

const (
	ContextKeyUser       contextKey = "user"
	ContextKeyAdmin      contextKey = "is_admin"
	ContextKeyEnrollment contextKey = "enrollment"
	ContextKeyRequestID  contextKey = "request_id"
)

// UserStore looks up signed-in operators.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*db.User, error)
}

// BearerValidator resolves a device API token to its enrollment, or nil.
type BearerValidator interface {
	ValidateBearerToken(ctx context.Context, token string) (*db.Enrollment, error)
}

type AuthMiddleware struct {
	sessions *SessionStore
	users    UserStore
	devices  BearerValidator
}

func NewAuthMiddleware(sessions *SessionStore, users UserStore, devices BearerValidator) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		users:    users,
		devices:  devices,
	}
}

// operator resolves the session's operator; nil when there is none.
func (m *AuthMiddleware) operator(w http.ResponseWriter, r *http.Request) (*db.User, bool, error) {
	userID, isAdmin, ok := m.sessions.GetUser(r)
	if !ok {
		return nil, false, nil
	}
	user, err := m.users.GetUser(r.Context(), userID)
	if err != nil {
		return nil, false, apperr.Wrap(err, "load session user")
	}
	if user == nil {
		m.sessions.Clear(r, w)
		return nil, false, nil
	}
	return user, isAdmin, nil
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, isAdmin, err := m.operator(w, r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if user == nil {
			WriteError(w, r, apperr.New(apperr.Unauthenticated, "sign in required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user, isAdmin)))
	})
}

func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			WriteError(w, r, apperr.New(apperr.Unauthorized, "administrator role required"))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// OptionalAuth attaches the operator when a valid session exists and lets
// the request through either way.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, isAdmin, err := m.operator(w, r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if user != nil {
			r = r.WithContext(WithUser(r.Context(), user, isAdmin))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireDevice authenticates a device by its bearer token. Every failure
// gets the same answer.
func (m *AuthMiddleware) RequireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			WriteError(w, r, errInvalidCredentials)
			return
		}

		e, err := m.devices.ValidateBearerToken(r.Context(), token)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if e == nil {
			WriteError(w, r, errInvalidCredentials)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyEnrollment, e)))
	})
}

var errInvalidCredentials = apperr.New(apperr.Unauthenticated, "invalid credentials")

func WithUser(ctx context.Context, user *db.User, isAdmin bool) context.Context {
	ctx = context.WithValue(ctx, ContextKeyUser, user)
	return context.WithValue(ctx, ContextKeyAdmin, isAdmin)
}

func GetUser(ctx context.Context) *db.User {
	user, _ := ctx.Value(ContextKeyUser).(*db.User)
	return user
}

func IsAdmin(ctx context.Context) bool {
	isAdmin, _ := ctx.Value(ContextKeyAdmin).(bool)
	return isAdmin
}

// GetEnrollment returns the device authenticated by RequireDevice.
func GetEnrollment(ctx context.Context) *db.Enrollment {
	e, _ := ctx.Value(ContextKeyEnrollment).(*db.Enrollment)
	return e
}
