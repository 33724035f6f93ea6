package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

var (
	testKeysOnce sync.Once
	testKeyA     *rsa.PrivateKey
	testKeyB     *rsa.PrivateKey
)

// testKeys returns two RSA keys shared across the package tests.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	testKeysOnce.Do(func() {
		var err error
		testKeyA, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKeyB, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return testKeyA, testKeyB
}

// jwksServer serves a mutable JWKS document and counts fetches.
type jwksServer struct {
	*httptest.Server
	mu   sync.Mutex
	doc  []byte
	hits atomic.Int64
	fail atomic.Bool

	gate    atomic.Pointer[chan struct{}]
	entered chan struct{}
}

func newJWKSServer(t *testing.T, keys map[string]*rsa.PrivateKey) *jwksServer {
	t.Helper()
	s := &jwksServer{entered: make(chan struct{}, 16)}
	s.setKeys(t, keys)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)
		if gate := s.gate.Load(); gate != nil {
			select {
			case s.entered <- struct{}{}:
			default:
			}
			<-*gate
		}
		if s.fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		s.mu.Lock()
		doc := s.doc
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(s.Close)
	return s
}

// hold makes fetches block until the returned func is called.
func (s *jwksServer) hold(t *testing.T) func() {
	t.Helper()
	gate := make(chan struct{})
	s.gate.Store(&gate)
	var once sync.Once
	release := func() {
		once.Do(func() {
			s.gate.Store(nil)
			close(gate)
		})
	}
	t.Cleanup(release)
	return release
}

func (s *jwksServer) setKeys(t *testing.T, keys map[string]*rsa.PrivateKey) {
	t.Helper()
	set := jwk.NewSet()
	for kid, priv := range keys {
		pub, err := jwk.FromRaw(priv.Public())
		require.NoError(t, err)
		require.NoError(t, pub.Set(jwk.KeyIDKey, kid))
		require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
		require.NoError(t, set.AddKey(pub))
	}
	doc, err := json.Marshal(set)
	require.NoError(t, err)
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

// tokenSpec describes a token to mint.
type tokenSpec struct {
	kid      string
	key      *rsa.PrivateKey
	alg      jwa.SignatureAlgorithm
	expires  time.Time
	noExpiry bool
	claims   map[string]interface{}
}

func accessClaims(groups ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"sub":            "user-123",
		"username":       "alice",
		"email":          "alice@example.com",
		"token_use":      "access",
		"cognito:groups": groups,
	}
}

func mintToken(t *testing.T, spec tokenSpec) string {
	t.Helper()

	tok := jwxjwt.New()
	for k, v := range spec.claims {
		require.NoError(t, tok.Set(k, v))
	}
	if !spec.noExpiry {
		exp := spec.expires
		if exp.IsZero() {
			exp = time.Now().Add(time.Hour)
		}
		require.NoError(t, tok.Set(jwxjwt.ExpirationKey, exp))
	}

	alg := spec.alg
	if alg == "" {
		alg = jwa.RS256
	}

	hdrs := jws.NewHeaders()
	if spec.kid != "" {
		require.NoError(t, hdrs.Set(jws.KeyIDKey, spec.kid))
	}

	signed, err := jwxjwt.Sign(tok, jwxjwt.WithKey(alg, spec.key, jws.WithProtectedHeaders(hdrs)))
	require.NoError(t, err)
	return string(signed)
}
