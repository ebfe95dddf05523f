package api

import (
	"context"
	"net/http"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/sessions"
)

const (
	sessionIDKey = "sid"
	userIDKey    = "uid"
	usernameKey  = "username"
)

// NewCookieStore returns the cookie-backed session store used by the server.
func NewCookieStore(key string, maxAge int, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(key))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// webSession adapts a gorilla session to service.Session and tracks whether
// it must be written back.
type webSession struct {
	s     *sessions.Session
	dirty bool
}

func (ws *webSession) ID() string {
	id, _ := ws.s.Values[sessionIDKey].(string)
	return id
}

func (ws *webSession) Get(key string) (string, bool) {
	v, ok := ws.s.Values[key].(string)
	return v, ok
}

func (ws *webSession) Set(key, value string) {
	ws.s.Values[key] = value
	ws.dirty = true
}

// UserID returns the logged-in user, or 0.
func (ws *webSession) UserID() int64 {
	uid, _ := ws.s.Values[userIDKey].(int64)
	return uid
}

// renew assigns a fresh session id and drops everything else.
func (ws *webSession) renew() error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	for k := range ws.s.Values {
		delete(ws.s.Values, k)
	}
	ws.s.Values[sessionIDKey] = id.String()
	ws.dirty = true
	return nil
}

func (ws *webSession) login(uid int64, username string) error {
	if err := ws.renew(); err != nil {
		return err
	}
	ws.s.Values[userIDKey] = uid
	ws.s.Values[usernameKey] = username
	return nil
}

func (ws *webSession) destroy() {
	for k := range ws.s.Values {
		delete(ws.s.Values, k)
	}
	ws.s.Options.MaxAge = -1
	ws.dirty = true
}

type sessionCtxKey struct{}

func sessionFromContext(ctx context.Context) *webSession {
	ws, _ := ctx.Value(sessionCtxKey{}).(*webSession)
	return ws
}

// sessionWriter saves the session right before the first byte of the
// response goes out, so handlers and middleware may change it freely.
type sessionWriter struct {
	http.ResponseWriter
	r     *http.Request
	ws    *webSession
	saved bool
}

func (sw *sessionWriter) save() {
	if sw.saved {
		return
	}
	sw.saved = true
	if !sw.ws.dirty {
		return
	}
	if err := sw.ws.s.Save(sw.r, sw.ResponseWriter); err != nil {
		logError(sw.r, "saving session", "error", err)
	}
}

func (sw *sessionWriter) WriteHeader(code int) {
	sw.save()
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *sessionWriter) Write(b []byte) (int, error) {
	sw.save()
	return sw.ResponseWriter.Write(b)
}

// SessionMiddleware loads the session cookie and guarantees it carries a
// session id.
func (s *Server) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(r, s.sessionName)
		if err != nil {
			// Tampered or stale cookie; gorilla still hands back a fresh session.
			logWarn(r, "discarding invalid session cookie", "error", err)
		}
		ws := &webSession{s: sess}
		if ws.ID() == "" {
			if err := ws.renew(); err != nil {
				internalError(w, r, err)
				return
			}
		}

		sw := &sessionWriter{ResponseWriter: w, r: r, ws: ws}
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), sessionCtxKey{}, ws)))
		sw.save()
	})
}
