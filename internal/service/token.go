package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"anon/internal/core"
)

var (
	// ErrMissingSession is returned by Generate when the identity has no session id.
	ErrMissingSession = errors.New("token requires a session id")
	ErrMissingKey     = errors.New("token server key is not configured")
)

const (
	DefaultTokenExpire     = 300 * time.Second
	DefaultSensitiveExpire = 60 * time.Second
	DefaultReplayWindow    = 120 * time.Second
	DefaultTokenHeader     = "X-API-Token"
	DefaultTokenCacheSize  = 1024
)

// Identity binds a token to the session and user that requested it.
type Identity struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
}

// Payload is the signed body of a token.
type Payload struct {
	Data      map[string]interface{} `json:"data"`
	Session   Identity               `json:"session"`
	Timestamp int64                  `json:"timestamp"`
	Expire    int64                  `json:"expire"` // unix seconds, not a duration
	Nonce     string                 `json:"nonce"`
}

type TokenConfig struct {
	ServerKey        string
	Expire           time.Duration
	SensitiveExpire  time.Duration
	ReplayProtection bool
	ReplayWindow     time.Duration
	Header           string
	Whitelist        []string
	DetailedErrors   bool
	CacheSize        int
}

// TokenEngine issues and verifies stateless HMAC-signed tokens. It is safe
// for concurrent use.
type TokenEngine struct {
	cfg       TokenConfig
	debug     core.Debugger
	cache     *verifyCache
	whitelist []*regexp.Regexp
	exact     map[string]bool
	now       func() time.Time
}

func NewTokenEngine(cfg TokenConfig, debug core.Debugger) *TokenEngine {
	if cfg.Expire <= 0 {
		cfg.Expire = DefaultTokenExpire
	}
	if cfg.SensitiveExpire <= 0 {
		cfg.SensitiveExpire = DefaultSensitiveExpire
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = DefaultReplayWindow
	}
	if cfg.Header == "" {
		cfg.Header = DefaultTokenHeader
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultTokenCacheSize
	}
	if debug == nil {
		debug = core.NopDebugger{}
	}

	e := &TokenEngine{
		cfg:   cfg,
		debug: debug,
		cache: newVerifyCache(cfg.CacheSize),
		exact: make(map[string]bool),
		now:   time.Now,
	}
	for _, pattern := range cfg.Whitelist {
		if !strings.Contains(pattern, "*") {
			e.exact[pattern] = true
			continue
		}
		expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
		e.whitelist = append(e.whitelist, regexp.MustCompile(expr))
	}
	return e
}

// SetClock replaces time.Now, for tests and replay simulations.
func (e *TokenEngine) SetClock(now func() time.Time) {
	e.now = now
}

// Header returns the request header tokens are read from.
func (e *TokenEngine) Header() string { return e.cfg.Header }

// Generate signs a new token for id carrying data. expire <= 0 selects the
// configured default, or the shorter sensitive expiry when sensitive is set.
func (e *TokenEngine) Generate(id Identity, data map[string]interface{}, expire time.Duration, sensitive bool) (string, error) {
	if id.SessionID == "" {
		return "", ErrMissingSession
	}
	if e.cfg.ServerKey == "" {
		return "", ErrMissingKey
	}
	if expire <= 0 {
		expire = e.cfg.Expire
		if sensitive {
			expire = e.cfg.SensitiveExpire
		}
	}
	if data == nil {
		data = map[string]interface{}{}
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	now := e.now()
	payload := Payload{
		Data:      data,
		Session:   id,
		Timestamp: now.Unix(),
		Expire:    now.Add(expire).Unix(),
		Nonce:     hex.EncodeToString(nonce),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding token payload: %w", err)
	}

	sig := sign(body, e.secret(id))
	return base64.StdEncoding.EncodeToString([]byte(string(body) + "." + sig)), nil
}

// Verify checks signature, expiry and the replay window. Failures return
// (nil, false); the reason reaches the debugger only with DetailedErrors.
func (e *TokenEngine) Verify(token string) (*Payload, bool) {
	if token == "" {
		return nil, false
	}
	now := e.now()
	key := tokenHash(token)

	if p, ok := e.cache.get(key, now); ok {
		return p, true
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return e.reject("token is not valid base64")
	}
	// The hex signature has no dots; the JSON body may.
	dot := strings.LastIndexByte(string(raw), '.')
	if dot < 0 {
		return e.reject("token has no signature")
	}
	body, sig := raw[:dot], string(raw[dot+1:])

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return e.reject("token payload is not valid JSON")
	}
	if p.Session.SessionID == "" {
		return e.reject("token payload has no session")
	}

	expected := sign(body, e.secret(p.Session))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return e.reject("token signature mismatch")
	}

	unix := now.Unix()
	if unix > p.Expire {
		return e.reject("token expired", "expire", p.Expire, "now", unix)
	}
	window := int64(e.cfg.ReplayWindow / time.Second)
	if e.cfg.ReplayProtection && abs(unix-p.Timestamp) > window {
		return e.reject("token outside replay window", "timestamp", p.Timestamp, "now", unix)
	}

	e.cache.put(key, &p, e.cacheUntil(&p, now), now)
	return &p, true
}

// VerifyRequest reads the token from the configured header, falling back to
// an Authorization bearer token.
func (e *TokenEngine) VerifyRequest(r *http.Request) (*Payload, bool) {
	return e.Verify(TokenFromRequest(r, e.cfg.Header))
}

// TokenFromRequest extracts a token from header or Authorization: Bearer.
func TokenFromRequest(r *http.Request, header string) string {
	if t := strings.TrimSpace(r.Header.Get(header)); t != "" {
		return t
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// IsWhitelisted reports whether route skips token checks: an exact entry or
// a pattern where * matches any run of characters.
func (e *TokenEngine) IsWhitelisted(route string) bool {
	if e.exact[route] {
		return true
	}
	for _, re := range e.whitelist {
		if re.MatchString(route) {
			return true
		}
	}
	return false
}

// cacheUntil is 80% of the remaining lifetime, cut short by the replay
// window so a cached token is never accepted after the window closes.
func (e *TokenEngine) cacheUntil(p *Payload, now time.Time) time.Time {
	remaining := time.Unix(p.Expire, 0).Sub(now)
	until := now.Add(remaining * 8 / 10)
	if e.cfg.ReplayProtection {
		if closes := time.Unix(p.Timestamp, 0).Add(e.cfg.ReplayWindow); closes.Before(until) {
			until = closes
		}
	}
	return until
}

func (e *TokenEngine) secret(id Identity) []byte {
	mac := hmac.New(sha256.New, []byte(e.cfg.ServerKey))
	mac.Write([]byte(id.SessionID + "|" + strconv.FormatInt(id.UserID, 10) + "|" + id.Username))
	return []byte(hex.EncodeToString(mac.Sum(nil)))
}

func (e *TokenEngine) reject(reason string, args ...any) (*Payload, bool) {
	if e.cfg.DetailedErrors && e.debug.Enabled() {
		e.debug.Warn(reason, args...)
	}
	return nil, false
}

func sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
