package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/agentgateway/internal/audit"
	"github.com/vyrodovalexey/agentgateway/internal/auth/jwt"
	"github.com/vyrodovalexey/agentgateway/internal/authz/rbac"
	"github.com/vyrodovalexey/agentgateway/internal/config"
	"github.com/vyrodovalexey/agentgateway/internal/forwarder"
)

const (
	testKid          = "kid-1"
	testServiceToken = "svc-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	signingKeyOnce sync.Once
	signingKey     *rsa.PrivateKey
)

func testSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	signingKeyOnce.Do(func() {
		var err error
		signingKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return signingKey
}

func newJWKS(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()

	pub, err := jwk.FromRaw(key.Public())
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, testKid))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	doc, err := json.Marshal(set)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// tokenOpts describes a token to mint.
type tokenOpts struct {
	groups  []string
	noKid   bool
	expired bool
	idToken bool
}

func mintToken(t *testing.T, key *rsa.PrivateKey, o tokenOpts) string {
	t.Helper()

	tok := jwxjwt.New()
	require.NoError(t, tok.Set(jwxjwt.SubjectKey, "user-123"))
	require.NoError(t, tok.Set("username", "alice"))
	require.NoError(t, tok.Set("email", "alice@example.com"))
	use := "access"
	if o.idToken {
		use = "id"
	}
	require.NoError(t, tok.Set("token_use", use))
	require.NoError(t, tok.Set("cognito:groups", o.groups))
	exp := time.Now().Add(time.Hour)
	if o.expired {
		exp = time.Now().Add(-time.Hour)
	}
	require.NoError(t, tok.Set(jwxjwt.ExpirationKey, exp))

	hdrs := jws.NewHeaders()
	if !o.noKid {
		require.NoError(t, hdrs.Set(jws.KeyIDKey, testKid))
	}
	signed, err := jwxjwt.Sign(tok, jwxjwt.WithKey(jwa.RS256, key, jws.WithProtectedHeaders(hdrs)))
	require.NoError(t, err)
	return string(signed)
}

// capturedRequest is what an upstream saw.
type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// upstream is a scripted backend that records requests.
type upstream struct {
	*httptest.Server
	hits    atomic.Int64
	mu      sync.Mutex
	last    *capturedRequest
	handler http.HandlerFunc
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{handler: handler}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.last = &capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		}
		handler := u.handler
		u.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) respond(handler http.HandlerFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handler = handler
}

func (u *upstream) lastRequest() *capturedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

// captureRecorder keeps every audit entry in memory.
type captureRecorder struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (r *captureRecorder) Record(_ context.Context, e *audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *captureRecorder) Close() error { return nil }

func (r *captureRecorder) all() []*audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audit.Entry(nil), r.entries...)
}

func (r *captureRecorder) only(t *testing.T) *audit.Entry {
	t.Helper()
	entries := r.all()
	require.Len(t, entries, 1)
	return entries[0]
}

// testEnv is a gateway wired to real collaborators and scripted upstreams.
type testEnv struct {
	gw       *Gateway
	key      *rsa.PrivateKey
	recorder *captureRecorder
	fwd      *forwarder.Forwarder
	app      *upstream
	finance  *upstream
	hr       *upstream
	legal    *upstream
}

func testPolicy() forwarder.Policy {
	return forwarder.Policy{
		MaxAttempts:      1,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       time.Millisecond,
		FailureThreshold: 5,
		RecoveryTimeout:  time.Minute,
		AttemptTimeout:   time.Second,
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	env := &testEnv{
		key:      testSigningKey(t),
		recorder: &captureRecorder{},
		app:      newUpstream(t, jsonHandler(http.StatusOK, `{"job_id":"job-1","status":"queued"}`)),
		finance:  newUpstream(t, jsonHandler(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`)),
		hr:       newUpstream(t, jsonHandler(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{}}`)),
		legal:    newUpstream(t, jsonHandler(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{}}`)),
	}
	jwks := newJWKS(t, env.key)

	cfg := config.DefaultConfig()
	cfg.Auth.JWKSURL = jwks.URL
	cfg.Upstreams.ApplicationServiceURL = env.app.URL
	cfg.Upstreams.MCPFinanceURL = env.finance.URL
	cfg.Upstreams.MCPHRURL = env.hr.URL
	cfg.Upstreams.MCPLegalURL = env.legal.URL
	cfg.Upstreams.ServiceToken = testServiceToken
	if mutate != nil {
		mutate(cfg)
	}

	keys, err := jwt.NewJWKSKeySet(cfg.Auth.JWKSEndpoint())
	require.NoError(t, err)
	verifier, err := jwt.NewVerifier(keys)
	require.NoError(t, err)

	policy, err := rbac.DefaultPolicy()
	require.NoError(t, err)

	env.fwd = forwarder.New(testPolicy())

	env.gw, err = New(cfg, verifier, rbac.NewEngine(policy), env.fwd, WithRecorder(env.recorder))
	require.NoError(t, err)
	return env
}

func (e *testEnv) serveAPI(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.gw.APIServer().Engine().ServeHTTP(w, req)
	return w
}

func (e *testEnv) serveMCP(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.gw.MCPServer().Engine().ServeHTTP(w, req)
	return w
}

func (e *testEnv) bearer(t *testing.T, o tokenOpts) string {
	t.Helper()
	return "Bearer " + mintToken(t, e.key, o)
}

// mcpRequest builds a control-plane POST /mcp request.
func mcpRequest(body string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderServiceToken, testServiceToken)
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}
