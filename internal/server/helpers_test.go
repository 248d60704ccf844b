package server

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shortsai/backend/internal/cookie"
	"github.com/shortsai/backend/internal/crypto"
	"github.com/shortsai/backend/internal/idp"
	"github.com/shortsai/backend/internal/tokens"
	"github.com/stretchr/testify/require"
)

const (
	testFrontend = "https://app.example.com"
	testBackend  = "https://api.example.com"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeVerifier struct {
	identity idp.Identity
	err      error
	calls    atomic.Int32
}

func (v *fakeVerifier) Verify(ctx context.Context, idToken string) (idp.Identity, error) {
	v.calls.Add(1)
	if v.err != nil {
		return idp.Identity{}, v.err
	}
	return v.identity, nil
}

type fakeDirectory struct {
	result idp.LookupResult
	delay  time.Duration
	calls  atomic.Int32
}

func (d *fakeDirectory) Lookup(ctx context.Context, subjectID string) idp.LookupResult {
	d.calls.Add(1)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return idp.Unconfirmed(ctx.Err())
		}
	}
	r := d.result
	if r.Confirmed {
		r.Identity.SubjectID = subjectID
	}
	return r
}

type testEnv struct {
	clock    *fakeClock
	sessions *tokens.SessionCodec
	states   *tokens.StateCodec
	cookie   *cookie.Session
	metrics  *Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	secret := []byte(strings.Repeat("k", 32))

	sessionSigner, err := crypto.NewPurposeSigner(crypto.PurposeSession, secret)
	require.NoError(t, err)
	stateSigner, err := crypto.NewPurposeSigner(crypto.PurposeOAuthState, secret)
	require.NoError(t, err)

	return &testEnv{
		clock:    clock,
		sessions: tokens.NewSessionCodec(sessionSigner, tokens.WithClock(clock.Now)),
		states:   tokens.NewStateCodec(stateSigner, tokens.WithClock(clock.Now)),
		cookie:   cookie.NewSession("session", cookie.Decide(testFrontend, testBackend, true)),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
}

func (e *testEnv) sessionCookie(t *testing.T, uid, email string) *http.Cookie {
	t.Helper()
	value, _, err := e.sessions.Issue(uid, email)
	require.NoError(t, err)
	return &http.Cookie{Name: e.cookie.Name(), Value: value}
}
