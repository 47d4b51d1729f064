package session

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNoSessionCookie  = errors.New("session cookie missing")
	ErrMalformedCookie  = errors.New("session cookie malformed")
	ErrSessionExpired   = errors.New("session expired")
	ErrSessionAnonymous = errors.New("session has no authenticated user")
)

// Identity is a verified principal extracted from a connection handshake.
type Identity struct {
	UserID    string
	SessionID string
}

// Validator turns a raw Cookie header into a verified identity by
// consulting the session store. Every failure path denies the single
// connection; none is fatal to the process.
type Validator struct {
	store      Store
	cookieName string
	timeout    time.Duration
	now        func() time.Time
}

func NewValidator(store Store, cookieName string, timeout time.Duration) *Validator {
	if strings.TrimSpace(cookieName) == "" {
		cookieName = "docflow_sid"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Validator{
		store:      store,
		cookieName: cookieName,
		timeout:    timeout,
		now:        time.Now,
	}
}

func (v *Validator) ValidateCookieHeader(ctx context.Context, header string) (Identity, error) {
	raw, ok := parseCookies(header)[v.cookieName]
	if !ok {
		return Identity{}, ErrNoSessionCookie
	}

	sessionID, err := DecodeSessionID(raw)
	if err != nil {
		return Identity{}, err
	}

	// Store lookups must not suspend indefinitely; a slow store denies the
	// connection instead of leaving the handshake pending.
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	record, err := v.store.Lookup(ctx, sessionID)
	if err != nil {
		return Identity{}, err
	}

	if strings.TrimSpace(record.UserID) == "" {
		return Identity{}, ErrSessionAnonymous
	}
	if !record.ExpiresAt.IsZero() && record.ExpiresAt.Before(v.now()) {
		return Identity{}, ErrSessionExpired
	}

	return Identity{UserID: record.UserID, SessionID: sessionID}, nil
}

// parseCookies splits a Cookie header into key/value pairs. Values may
// contain '=', so only the first one separates key from value.
func parseCookies(header string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		cookies[strings.TrimSpace(key)] = value
	}
	return cookies
}

// DecodeSessionID extracts the session identifier from a cookie value.
// The signed form is "prefix:payload.signature" where the identifier is
// the payload before the last dot; a plain URL-encoded identifier is
// accepted as fallback.
func DecodeSessionID(value string) (string, error) {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		decoded = value
	}

	if _, rest, found := strings.Cut(decoded, ":"); found {
		lastDot := strings.LastIndex(rest, ".")
		if lastDot <= 0 {
			return "", ErrMalformedCookie
		}
		id := rest[:lastDot]
		if id == "" {
			return "", ErrMalformedCookie
		}
		return id, nil
	}

	if decoded == "" {
		return "", ErrMalformedCookie
	}
	return decoded, nil
}
