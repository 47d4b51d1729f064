package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	records map[string]Record
	err     error
	gotID   string
}

func (s *fakeStore) Lookup(_ context.Context, sessionID string) (Record, error) {
	s.gotID = sessionID
	if s.err != nil {
		return Record{}, s.err
	}
	record, ok := s.records[sessionID]
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	return record, nil
}

func newTestValidator(store Store) *Validator {
	return NewValidator(store, "docflow_sid", time.Second)
}

func TestValidateCookieHeaderSignedCookie(t *testing.T) {
	store := &fakeStore{records: map[string]Record{
		"abc123": {UserID: "user-9", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	v := newTestValidator(store)

	// express-style signed value: s:<id>.<signature>, URL-encoded.
	header := "theme=dark; docflow_sid=s%3Aabc123.signaturepart"
	identity, err := v.ValidateCookieHeader(context.Background(), header)
	if err != nil {
		t.Fatalf("expected valid identity, got %v", err)
	}
	if identity.UserID != "user-9" || identity.SessionID != "abc123" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if store.gotID != "abc123" {
		t.Fatalf("expected lookup for abc123, got %q", store.gotID)
	}
}

func TestValidateCookieHeaderRawCookie(t *testing.T) {
	store := &fakeStore{records: map[string]Record{
		"raw-session": {UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	v := newTestValidator(store)

	identity, err := v.ValidateCookieHeader(context.Background(), "docflow_sid=raw-session")
	if err != nil {
		t.Fatalf("expected valid identity, got %v", err)
	}
	if identity.SessionID != "raw-session" {
		t.Fatalf("unexpected session id: %s", identity.SessionID)
	}
}

func TestValidateCookieHeaderValueWithEmbeddedEquals(t *testing.T) {
	store := &fakeStore{records: map[string]Record{
		"a=b=c": {UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	v := newTestValidator(store)

	if _, err := v.ValidateCookieHeader(context.Background(), "docflow_sid=a=b=c"); err != nil {
		t.Fatalf("embedded '=' in cookie value must be tolerated: %v", err)
	}
}

func TestValidateCookieHeaderRejections(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		store   *fakeStore
		wantErr error
	}{
		{
			name:    "no cookie header",
			header:  "",
			store:   &fakeStore{},
			wantErr: ErrNoSessionCookie,
		},
		{
			name:    "other cookies only",
			header:  "theme=dark; lang=en",
			store:   &fakeStore{},
			wantErr: ErrNoSessionCookie,
		},
		{
			name:    "malformed signed value",
			header:  "docflow_sid=s%3Anodothere",
			store:   &fakeStore{},
			wantErr: ErrMalformedCookie,
		},
		{
			name:    "store miss",
			header:  "docflow_sid=missing",
			store:   &fakeStore{},
			wantErr: ErrSessionNotFound,
		},
		{
			name:   "expired session",
			header: "docflow_sid=old",
			store: &fakeStore{records: map[string]Record{
				"old": {UserID: "user-1", ExpiresAt: time.Now().Add(-time.Minute)},
			}},
			wantErr: ErrSessionExpired,
		},
		{
			name:   "record without principal",
			header: "docflow_sid=anon",
			store: &fakeStore{records: map[string]Record{
				"anon": {ExpiresAt: time.Now().Add(time.Hour)},
			}},
			wantErr: ErrSessionAnonymous,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestValidator(tc.store)
			_, err := v.ValidateCookieHeader(context.Background(), tc.header)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateCookieHeaderStoreErrorFailsClosed(t *testing.T) {
	store := &fakeStore{err: errors.New("redis unreachable")}
	v := newTestValidator(store)

	if _, err := v.ValidateCookieHeader(context.Background(), "docflow_sid=abc"); err == nil {
		t.Fatal("store error must deny authentication")
	}
}
