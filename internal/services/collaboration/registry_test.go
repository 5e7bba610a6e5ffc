package collaboration

import (
	"context"
	"errors"
	"testing"
	"time"

	"docsync/internal/auth"

	"github.com/go-playground/assert/v2"
)

func TestAuthenticateRecordsUser(t *testing.T) {
	v := newFakeVerifier()
	v.allow("good", 42, "jti-1")
	r := NewRegistry(v, nil, discardLogger())

	userID, err := r.Authenticate(context.Background(), "c1", "good")
	assert.Equal(t, err, nil)
	assert.Equal(t, userID, int64(42))

	got, ok := r.Lookup("c1")
	assert.Equal(t, ok, true)
	assert.Equal(t, got, int64(42))

	conn, ok := r.Connection("c1")
	assert.Equal(t, ok, true)
	assert.Equal(t, conn.TokenID, "jti-1")
	assert.Equal(t, r.Count(), 1)
}

func TestAuthenticateFailureRecordsNothing(t *testing.T) {
	r := NewRegistry(newFakeVerifier(), nil, discardLogger())

	for _, token := range []string{"", "bogus"} {
		_, err := r.Authenticate(context.Background(), "c1", token)
		assert.Equal(t, errors.Is(err, ErrAuthFailure), true)
	}
	_, ok := r.Lookup("c1")
	assert.Equal(t, ok, false)
	assert.Equal(t, r.Count(), 0)
}

func TestAuthenticateWithRealTokens(t *testing.T) {
	issuer := auth.NewIssuer("secret")
	r := NewRegistry(auth.NewVerifier("secret"), nil, discardLogger())

	valid, err := issuer.Issue(9, time.Hour, auth.TokenTypeAccess)
	assert.Equal(t, err, nil)
	expired, err := issuer.Issue(9, -time.Hour, auth.TokenTypeAccess)
	assert.Equal(t, err, nil)
	forged, err := auth.NewIssuer("other").Issue(9, time.Hour, auth.TokenTypeAccess)
	assert.Equal(t, err, nil)

	userID, err := r.Authenticate(context.Background(), "ok", valid)
	assert.Equal(t, err, nil)
	assert.Equal(t, userID, int64(9))

	for connID, token := range map[string]string{"expired": expired, "forged": forged} {
		_, err := r.Authenticate(context.Background(), connID, token)
		assert.Equal(t, errors.Is(err, ErrAuthFailure), true)
		_, ok := r.Lookup(connID)
		assert.Equal(t, ok, false)
	}
}

func TestAuthenticateRejectsRevokedToken(t *testing.T) {
	v := newFakeVerifier()
	v.allow("revoked", 1, "jti-revoked")
	v.allow("fresh", 1, "jti-fresh")
	r := NewRegistry(v, &fakeRevocations{revoked: map[string]bool{"jti-revoked": true}}, discardLogger())

	_, err := r.Authenticate(context.Background(), "c1", "revoked")
	assert.Equal(t, errors.Is(err, ErrAuthFailure), true)

	_, err = r.Authenticate(context.Background(), "c2", "fresh")
	assert.Equal(t, err, nil)
}

func TestAuthenticateFailsClosedOnBlocklistError(t *testing.T) {
	v := newFakeVerifier()
	v.allow("tok", 1, "jti")
	r := NewRegistry(v, &fakeRevocations{err: errStoreDown}, discardLogger())

	_, err := r.Authenticate(context.Background(), "c1", "tok")
	assert.Equal(t, errors.Is(err, ErrAuthFailure), true)
	assert.Equal(t, r.Count(), 0)
}

func TestForgetIsIdempotent(t *testing.T) {
	v := newFakeVerifier()
	v.allow("tok", 1, "")
	r := NewRegistry(v, nil, discardLogger())

	_, err := r.Authenticate(context.Background(), "c1", "tok")
	assert.Equal(t, err, nil)

	r.Forget("c1")
	r.Forget("c1")
	r.Forget("never-seen")

	_, ok := r.Lookup("c1")
	assert.Equal(t, ok, false)
}

func TestUserMayOwnManyConnections(t *testing.T) {
	v := newFakeVerifier()
	v.allow("tok", 5, "")
	r := NewRegistry(v, nil, discardLogger())

	for _, connID := range []string{"c1", "c2", "c3"} {
		_, err := r.Authenticate(context.Background(), connID, "tok")
		assert.Equal(t, err, nil)
	}
	assert.Equal(t, r.Count(), 3)

	r.Forget("c2")
	_, ok := r.Lookup("c1")
	assert.Equal(t, ok, true)
	assert.Equal(t, r.Count(), 2)
}
