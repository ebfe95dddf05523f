package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"anon/internal/core"
	"anon/internal/service"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Success   bool       `json:"success"`
	Token     string     `json:"token"`
	CSRFToken string     `json:"csrf_token"`
	Header    string     `json:"header"`
	User      *core.User `json:"user,omitempty"`
}

func decodeCredentials(r *http.Request) (credentials, bool) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return c, false
	}
	return c, c.Username != "" && c.Password != ""
}

// Setup creates the first admin account. It only works on an empty users table.
func (s *Server) Setup(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.auth.SetupAdmin(r.Context(), c.Username, c.Password)
	switch {
	case errors.Is(err, service.ErrSetupCompleted):
		writeError(w, http.StatusConflict, "setup already completed")
		return
	case errors.Is(err, core.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		internalError(w, r, err)
		return
	}

	logInfo(r, "admin account created", "uid", user.UID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "user": user})
}

// Login checks credentials, starts a fresh session and issues a token bound
// to it together with a CSRF token.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.auth.Authenticate(r.Context(), c.Username, c.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		logWarn(r, "login failed", "username", c.Username)
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}

	ws := sessionFromContext(r.Context())
	if err := ws.login(user.UID, user.Name); err != nil {
		internalError(w, r, err)
		return
	}

	s.issue(w, r, ws, service.Identity{SessionID: ws.ID(), UserID: user.UID, Username: user.Name},
		map[string]interface{}{"group": user.Group}, false, user)
	logInfo(r, "login", "uid", user.UID)
}

// Refresh re-issues a token for the identity of the presented one. Pass
// ?sensitive=1 for a short-lived token.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	payload, ok := PayloadFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	sensitive := r.URL.Query().Get("sensitive") == "1"
	s.issue(w, r, sessionFromContext(r.Context()), payload.Session, payload.Data, sensitive, nil)
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, ws *webSession, id service.Identity,
	data map[string]interface{}, sensitive bool, user *core.User) {
	token, err := s.tokens.Generate(id, data, 0, sensitive)
	if err != nil {
		internalError(w, r, err)
		return
	}

	var sess service.Session
	if ws != nil {
		sess = ws
	}
	csrfToken, err := s.csrf.GenerateToken(sess)
	if err != nil {
		internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Success:   true,
		Token:     token,
		CSRFToken: csrfToken,
		Header:    s.tokens.Header(),
		User:      user,
	})
}

// CSRFToken hands out a CSRF token for the current session.
func (s *Server) CSRFToken(w http.ResponseWriter, r *http.Request) {
	var sess service.Session
	if ws := sessionFromContext(r.Context()); ws != nil {
		sess = ws
	}
	token, err := s.csrf.GenerateToken(sess)
	if err != nil {
		internalError(w, r, err)
		return
	}
	w.Header().Set(CSRFHeader, token)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "csrf_token": token})
}

// Check reports whether the request carries a valid token. It never fails.
func (s *Server) Check(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.tokens.VerifyRequest(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"session":       payload.Session,
		"expires_at":    payload.Expire,
	})
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if ws := sessionFromContext(r.Context()); ws != nil {
		ws.destroy()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
