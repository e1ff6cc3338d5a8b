package middleware

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	SessionName    = "droidmdm"
	SessionUserID  = "user_id"
	SessionIsAdmin = "is_admin"
	SessionState   = "oauth_state"
)

type SessionStore struct {
	store *sessions.CookieStore
}

func NewSessionStore(secret string, secure bool) *SessionStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &SessionStore{store: store}
}

func (s *SessionStore) Get(r *http.Request) (*sessions.Session, error) {
	return s.store.Get(r, SessionName)
}

func (s *SessionStore) SetUser(r *http.Request, w http.ResponseWriter, userID string, isAdmin bool) error {
	session, err := s.Get(r)
	if err != nil {
		return err
	}
	session.Values[SessionUserID] = userID
	session.Values[SessionIsAdmin] = isAdmin
	delete(session.Values, SessionState)
	return session.Save(r, w)
}

func (s *SessionStore) GetUser(r *http.Request) (userID string, isAdmin bool, ok bool) {
	session, err := s.Get(r)
	if err != nil {
		return "", false, false
	}

	userID, ok = session.Values[SessionUserID].(string)
	if !ok || userID == "" {
		return "", false, false
	}

	isAdmin, _ = session.Values[SessionIsAdmin].(bool)
	return userID, isAdmin, true
}

// SetState remembers the OAuth state for the callback to check.
func (s *SessionStore) SetState(r *http.Request, w http.ResponseWriter, state string) error {
	session, err := s.Get(r)
	if err != nil {
		return err
	}
	session.Values[SessionState] = state
	return session.Save(r, w)
}

func (s *SessionStore) State(r *http.Request) string {
	session, err := s.Get(r)
	if err != nil {
		return ""
	}
	state, _ := session.Values[SessionState].(string)
	return state
}

func (s *SessionStore) Clear(r *http.Request, w http.ResponseWriter) error {
	session, err := s.Get(r)
	if err != nil {
		return err
	}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

func GenerateState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
