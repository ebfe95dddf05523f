package service

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultCSRFMaxAge = 7200 * time.Second
	csrfSessionKey    = "csrf_token"
)

// ErrNoSession is returned when session-backed CSRF has no session to use.
var ErrNoSession = errors.New("csrf: no session")

// Session is the slice of a web session the CSRF protocol needs.
type Session interface {
	ID() string
	Get(key string) (string, bool)
	Set(key, value string)
}

type CSRFConfig struct {
	Key         string
	Stateless   bool
	MaxAge      time.Duration
	BindSession bool
}

// CSRF issues and checks anti-forgery tokens, either self-contained and
// HMAC-signed (Stateless) or stored in the session.
type CSRF struct {
	cfg CSRFConfig
	now func() time.Time
}

type csrfClaims struct {
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
	SessionID string `json:"session_id"`
}

func NewCSRF(cfg CSRFConfig) *CSRF {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultCSRFMaxAge
	}
	return &CSRF{cfg: cfg, now: time.Now}
}

func (c *CSRF) SetClock(now func() time.Time) {
	c.now = now
}

// Stateless reports the configured mode.
func (c *CSRF) Stateless() bool { return c.cfg.Stateless }

// GenerateToken returns a token for sess. In session mode the token is
// stored in sess, replacing any previous one.
func (c *CSRF) GenerateToken(sess Session) (string, error) {
	if !c.cfg.Stateless {
		if sess == nil {
			return "", ErrNoSession
		}
		token, err := randomHex(32)
		if err != nil {
			return "", err
		}
		sess.Set(csrfSessionKey, token)
		return token, nil
	}

	nonce, err := randomHex(16)
	if err != nil {
		return "", err
	}
	claims := csrfClaims{Timestamp: c.now().Unix(), Nonce: nonce}
	if sess != nil {
		claims.SessionID = sess.ID()
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encoding csrf claims: %w", err)
	}
	inner := base64.StdEncoding.EncodeToString(body)
	sig := sign([]byte(inner), []byte(c.cfg.Key))
	return base64.StdEncoding.EncodeToString([]byte(inner + "." + sig)), nil
}

// CurrentToken returns the session-mode token held in sess, if any.
func (c *CSRF) CurrentToken(sess Session) string {
	if sess == nil {
		return ""
	}
	t, _ := sess.Get(csrfSessionKey)
	return t
}

// Verify checks token. A successful session-mode check rotates the stored
// token; read the new one with CurrentToken.
func (c *CSRF) Verify(token string, sess Session) bool {
	if token == "" {
		return false
	}
	if !c.cfg.Stateless {
		return c.verifySession(token, sess)
	}
	return c.verifyStateless(token, sess)
}

func (c *CSRF) verifySession(token string, sess Session) bool {
	if sess == nil {
		return false
	}
	stored, ok := sess.Get(csrfSessionKey)
	if !ok || stored == "" {
		return false
	}
	if !hmac.Equal([]byte(stored), []byte(token)) {
		return false
	}
	if next, err := randomHex(32); err == nil {
		sess.Set(csrfSessionKey, next)
	}
	return true
}

func (c *CSRF) verifyStateless(token string, sess Session) bool {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	inner, sig, ok := strings.Cut(string(raw), ".")
	if !ok {
		return false
	}
	if !hmac.Equal([]byte(sign([]byte(inner), []byte(c.cfg.Key))), []byte(sig)) {
		return false
	}

	body, err := base64.StdEncoding.DecodeString(inner)
	if err != nil {
		return false
	}
	var claims csrfClaims
	if err := json.Unmarshal(body, &claims); err != nil {
		return false
	}

	age := c.now().Unix() - claims.Timestamp
	if age < 0 || age > int64(c.cfg.MaxAge/time.Second) {
		return false
	}
	if c.cfg.BindSession {
		if sess == nil || claims.SessionID == "" || claims.SessionID != sess.ID() {
			return false
		}
	}
	return true
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
