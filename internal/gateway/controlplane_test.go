package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/agentgateway/internal/audit"
	"github.com/vyrodovalexey/agentgateway/internal/auth/jwt"
	"github.com/vyrodovalexey/agentgateway/internal/config"
	"github.com/vyrodovalexey/agentgateway/internal/forwarder"
	"github.com/vyrodovalexey/agentgateway/internal/mcp"
)

const toolsCall = `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"department":"%s","name":"list_invoices"}}`

func toolsCallFor(department string) string {
	return fmt.Sprintf(toolsCall, department)
}

// fakePolicy grants everything unless panicking is set.
type fakePolicy struct {
	panicking bool
}

func (p fakePolicy) CheckPermission([]string, string, string) bool {
	if p.panicking {
		panic("policy exploded")
	}
	return true
}

func (p fakePolicy) AccessibleResources([]string) []string { return nil }

type fakeVerifier struct{}

func (fakeVerifier) Verify(context.Context, string) (*jwt.Principal, error) {
	return &jwt.Principal{Subject: "user-1"}, nil
}

func TestControlPlane_ServiceToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		configured  string
		headers     map[string]string
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "missing",
			configured:  testServiceToken,
			headers:     map[string]string{HeaderServiceToken: ""},
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Missing service token",
		},
		{
			name:        "mismatch",
			configured:  testServiceToken,
			headers:     map[string]string{HeaderServiceToken: "wrong"},
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Invalid service token",
		},
		{
			name:       "bearer fallback",
			configured: testServiceToken,
			headers:    map[string]string{HeaderServiceToken: "", "Authorization": "Bearer " + testServiceToken},
			wantStatus: http.StatusOK,
		},
		{
			name:        "bearer fallback mismatch",
			configured:  testServiceToken,
			headers:     map[string]string{HeaderServiceToken: "", "Authorization": "Bearer nope"},
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Invalid service token",
		},
		{
			name:       "empty configured token accepts any",
			configured: "",
			headers:    map[string]string{HeaderServiceToken: "anything"},
			wantStatus: http.StatusOK,
		},
		{
			name:        "empty configured token still requires one",
			configured:  "",
			headers:     map[string]string{HeaderServiceToken: ""},
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Missing service token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, func(cfg *config.Config) {
				cfg.Upstreams.ServiceToken = tt.configured
			})

			w := env.serveMCP(mcpRequest(toolsCallFor("finance"), tt.headers))

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, decodeBody(t, w)["message"])
				assert.Zero(t, env.finance.hits.Load())
			}
			entry := env.recorder.only(t)
			assert.Equal(t, ServiceIdentity, entry.UserID)
			assert.Equal(t, tt.wantStatus, entry.StatusCode)
		})
	}
}

func TestControlPlane_ForwardsToDepartment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	body := toolsCallFor("finance")

	w := env.serveMCP(mcpRequest(body, map[string]string{HeaderUserRoles: "finance"}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`, w.Body.String())

	got := env.finance.lastRequest()
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.JSONEq(t, body, string(got.Body))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Zero(t, env.hr.hits.Load())
	assert.Zero(t, env.legal.hits.Load())

	entry := env.recorder.only(t)
	assert.Equal(t, audit.SurfaceMCP, entry.Surface)
	assert.Equal(t, ServiceIdentity, entry.UserID)
	assert.Equal(t, ServiceIdentity, entry.Username)
	assert.Equal(t, "finance", entry.Department)
	assert.Equal(t, "MCP:tools/call", entry.Method)
	assert.Equal(t, "/mcp", entry.Path)
	assert.Equal(t, http.StatusOK, entry.StatusCode)
	assert.Empty(t, entry.Error)
}

func TestControlPlane_DepartmentIsolation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	w := env.serveMCP(mcpRequest(toolsCallFor("hr"), map[string]string{HeaderUserRoles: "finance"}))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, env.hr.hits.Load())

	entry := env.recorder.only(t)
	assert.Equal(t, http.StatusForbidden, entry.StatusCode)
	assert.Equal(t, audit.OutcomeDenied, audit.OutcomeForStatus(entry.StatusCode))
	assert.Equal(t, "hr", entry.Department)
}

func TestControlPlane_Authorization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mutate     func(*config.Config)
		department string
		headers    map[string]string
		wantStatus int
		wantReason string
	}{
		{
			name:       "isolation violation with rbac grant",
			department: "finance",
			headers:    map[string]string{HeaderUserRoles: "auditor"},
			wantStatus: http.StatusForbidden,
			wantReason: ReasonIsolationViolation,
		},
		{
			name:       "auditor allowed without isolation",
			mutate:     func(c *config.Config) { c.Authz.DepartmentIsolation = false },
			department: "legal",
			headers:    map[string]string{HeaderUserRoles: "auditor"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "rbac denial",
			mutate:     func(c *config.Config) { c.Authz.DepartmentIsolation = false },
			department: "finance",
			headers:    map[string]string{HeaderUserRoles: "hr"},
			wantStatus: http.StatusForbidden,
			wantReason: ReasonRBACDenied,
		},
		{
			name:       "rbac disabled isolation still applies",
			mutate:     func(c *config.Config) { c.Authz.RBACEnabled = false },
			department: "finance",
			headers:    map[string]string{HeaderUserRoles: "hr"},
			wantStatus: http.StatusForbidden,
			wantReason: ReasonIsolationViolation,
		},
		{
			name:       "both checks disabled",
			mutate:     func(c *config.Config) { c.Authz.RBACEnabled = false; c.Authz.DepartmentIsolation = false },
			department: "finance",
			headers:    map[string]string{HeaderUserRoles: "hr"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "roles matched case insensitively and trimmed",
			department: "Finance",
			headers:    map[string]string{HeaderUserRoles: " auditor , FINANCE ,"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "no roles header trusted by default",
			department: "legal",
			wantStatus: http.StatusOK,
		},
		{
			name:       "roles required",
			mutate:     func(c *config.Config) { c.Authz.RequireUserRoles = true },
			department: "legal",
			wantStatus: http.StatusForbidden,
			wantReason: ReasonMissingRoles,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, tt.mutate)

			w := env.serveMCP(mcpRequest(toolsCallFor(tt.department), tt.headers))

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			entry := env.recorder.only(t)
			assert.Equal(t, tt.wantReason, entry.Error)
			if tt.wantStatus == http.StatusForbidden {
				assert.Equal(t, "forbidden", decodeBody(t, w)["error"])
			}
		})
	}
}

func TestControlPlane_EnvelopeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   float64
		wantID     interface{}
		wantMsg    string
	}{
		{
			name:       "malformed json",
			body:       `{"jsonrpc":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   mcp.CodeInvalidRequest,
		},
		{
			name:       "wrong version",
			body:       `{"jsonrpc":"1.0","id":"abc","method":"ping"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   mcp.CodeInvalidRequest,
			wantID:     "abc",
		},
		{
			name:       "missing method",
			body:       `{"jsonrpc":"2.0","id":3}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   mcp.CodeInvalidRequest,
			wantID:     float64(3),
		},
		{
			name:       "unsupported method",
			body:       `{"jsonrpc":"2.0","id":9,"method":"unsupported/method","params":{"department":"finance"}}`,
			wantStatus: http.StatusOK,
			wantCode:   mcp.CodeMethodNotFound,
			wantID:     float64(9),
			wantMsg:    "Method not found: unsupported/method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, nil)

			w := env.serveMCP(mcpRequest(tt.body, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, "2.0", body["jsonrpc"])
			assert.Equal(t, tt.wantID, body["id"])
			rpcErr, ok := body["error"].(map[string]interface{})
			require.True(t, ok, w.Body.String())
			assert.Equal(t, tt.wantCode, rpcErr["code"])
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, rpcErr["message"])
			}
			assert.Zero(t, env.finance.hits.Load())
			assert.Len(t, env.recorder.all(), 1)
		})
	}
}

func TestControlPlane_BodyTooLarge(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(cfg *config.Config) { cfg.MaxRequestBodyBytes = 32 })

	w := env.serveMCP(mcpRequest(toolsCallFor("finance"), map[string]string{HeaderUserRoles: "finance"}))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	body := decodeBody(t, w)
	assert.Nil(t, body["id"])
	rpcErr, ok := body["error"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	assert.Equal(t, float64(mcp.CodeInvalidRequest), rpcErr["code"])
	assert.Equal(t, "Request body too large", rpcErr["message"])
	assert.Zero(t, env.finance.hits.Load())

	entry := env.recorder.only(t)
	assert.Equal(t, http.StatusRequestEntityTooLarge, entry.StatusCode)
	assert.Contains(t, entry.Error, "too large")
}

func TestControlPlane_DepartmentResolution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		body        string
		headers     map[string]string
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "missing department",
			body:        `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Missing department in request",
		},
		{
			name:       "server_type param",
			body:       `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{"server_type":"finance"}}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "server type header",
			body:       `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			headers:    map[string]string{HeaderMCPServerType: "finance"},
			wantStatus: http.StatusOK,
		},
		{
			name:        "unknown department",
			body:        toolsCallFor("marketing"),
			wantStatus:  http.StatusNotFound,
			wantMessage: "Unknown department",
		},
		{
			name:        "department without upstream",
			mutate:      func(c *config.Config) { c.Upstreams.MCPFinanceURL = "" },
			body:        toolsCallFor("finance"),
			wantStatus:  http.StatusNotFound,
			wantMessage: "MCP server not found",
		},
		{
			name:        "upstream unavailable",
			mutate:      func(c *config.Config) { c.Upstreams.MCPFinanceURL = "http://127.0.0.1:1" },
			body:        toolsCallFor("finance"),
			wantStatus:  http.StatusBadGateway,
			wantMessage: "MCP server unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, tt.mutate)

			w := env.serveMCP(mcpRequest(tt.body, tt.headers))

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, decodeBody(t, w)["message"])
			}
			assert.Equal(t, tt.wantStatus, env.recorder.only(t).StatusCode)
		})
	}
}

func TestControlPlane_CircuitOpensAfterConsecutiveTimeouts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	env.legal.respond(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	fwdPolicy := testPolicy()
	fwdPolicy.AttemptTimeout = 50 * time.Millisecond
	gw, err := New(env.gw.config, fakeVerifier{}, fakePolicy{}, forwarder.New(fwdPolicy), WithRecorder(env.recorder))
	require.NoError(t, err)

	serve := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		gw.MCPServer().Engine().ServeHTTP(w, mcpRequest(toolsCallFor("legal"), nil))
		return w
	}

	for i := 0; i < 5; i++ {
		w := serve()
		require.Equal(t, http.StatusBadGateway, w.Code)
	}
	assert.EqualValues(t, 5, env.legal.hits.Load())

	start := time.Now()
	w := serve()
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "MCP server unavailable", decodeBody(t, w)["message"])
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.EqualValues(t, 5, env.legal.hits.Load())

	entries := env.recorder.all()
	require.Len(t, entries, 6)
	assert.Contains(t, entries[5].Error, "circuit breaker is open")
}

func TestControlPlane_ListServers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		path      string
		roles     string
		mutate    func(*config.Config)
		wantTypes []string
	}{
		{name: "all without roles", path: "/servers", wantTypes: []string{"finance", "hr", "legal"}},
		{name: "legacy path", path: "/mcp/servers", wantTypes: []string{"finance", "hr", "legal"}},
		{name: "finance role", path: "/servers", roles: "finance", wantTypes: []string{"finance"}},
		{name: "auditor role", path: "/servers", roles: "auditor", wantTypes: []string{"finance", "hr", "legal"}},
		{name: "unknown role", path: "/servers", roles: "intern", wantTypes: []string{}},
		{
			name:      "unconfigured server omitted",
			path:      "/servers",
			mutate:    func(c *config.Config) { c.Upstreams.MCPHRURL = "" },
			wantTypes: []string{"finance", "legal"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, tt.mutate)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set(HeaderServiceToken, testServiceToken)
			if tt.roles != "" {
				req.Header.Set(HeaderUserRoles, tt.roles)
			}

			w := env.serveMCP(req)
			require.Equal(t, http.StatusOK, w.Code)

			var body struct {
				Servers []struct {
					Type        string `json:"type"`
					URL         string `json:"url"`
					Description string `json:"description"`
				} `json:"servers"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

			types := make([]string, 0, len(body.Servers))
			for _, s := range body.Servers {
				types = append(types, s.Type)
				assert.NotEmpty(t, s.URL)
				assert.NotEmpty(t, s.Description)
			}
			assert.Equal(t, tt.wantTypes, types)
		})
	}
}

func TestControlPlane_ListServersRequiresToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	w := env.serveMCP(httptest.NewRequest(http.MethodGet, "/servers", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestControlPlane_PanicReturnsInternalError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	gw, err := New(env.gw.config, fakeVerifier{}, fakePolicy{panicking: true}, env.fwd, WithRecorder(env.recorder))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	gw.MCPServer().Engine().ServeHTTP(w, mcpRequest(toolsCallFor("finance"), map[string]string{HeaderUserRoles: "finance"}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 7, body["id"])
	rpcErr, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, mcp.CodeInternalError, rpcErr["code"])
	assert.Equal(t, "Internal server error", rpcErr["message"])

	entry := env.recorder.only(t)
	assert.Equal(t, http.StatusInternalServerError, entry.StatusCode)
	assert.Equal(t, "panic: policy exploded", entry.Error)
}

func TestParseRoles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header      string
		wantRoles   []string
		wantPresent bool
	}{
		{header: "", wantPresent: false},
		{header: "   ", wantPresent: false},
		{header: "finance", wantRoles: []string{"finance"}, wantPresent: true},
		{header: " finance, hr ,,", wantRoles: []string{"finance", "hr"}, wantPresent: true},
		{header: ",", wantPresent: true},
	}

	for _, tt := range tests {
		roles, present := parseRoles(tt.header)
		assert.Equal(t, tt.wantRoles, roles, tt.header)
		assert.Equal(t, tt.wantPresent, present, tt.header)
	}
}
