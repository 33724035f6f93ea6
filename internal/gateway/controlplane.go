package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/agentgateway/internal/auth/jwt"
	"github.com/vyrodovalexey/agentgateway/internal/authz/rbac"
	"github.com/vyrodovalexey/agentgateway/internal/forwarder"
	"github.com/vyrodovalexey/agentgateway/internal/gateway/server/http/middleware"
	"github.com/vyrodovalexey/agentgateway/internal/mcp"
	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

// Control-plane request headers.
const (
	HeaderServiceToken  = "X-Service-Token"
	HeaderUserRoles     = "X-User-Roles"
	HeaderMCPServerType = "X-MCP-Server-Type"
)

// ServiceIdentity is the audit identity of callers holding the service token.
const ServiceIdentity = "application"

// Audit reasons for control-plane denials.
const (
	ReasonRBACDenied         = "RBAC permission denied"
	ReasonIsolationViolation = "Department isolation violation"
	ReasonMissingRoles       = "Missing user roles"
)

// PolicyEngine answers role based permission queries.
type PolicyEngine interface {
	CheckPermission(roles []string, resource, action string) bool
	AccessibleResources(roles []string) []string
}

// controlPlane serves the MCP routing API for the application service.
type controlPlane struct {
	serviceToken        string
	rbacEnabled         bool
	departmentIsolation bool
	requireUserRoles    bool

	servers   *mcp.DepartmentTable
	policy    PolicyEngine
	forwarder Forwarder
	logger    observability.Logger
}

func (p *controlPlane) register(r gin.IRoutes) {
	r.POST("/mcp", p.authenticate, p.route)
	r.GET("/servers", p.authenticate, p.listServers)
	r.GET("/mcp/servers", p.authenticate, p.listServers)
}

// authenticate checks the shared service token. An empty configured token
// accepts any presented token.
func (p *controlPlane) authenticate(c *gin.Context) {
	stateFrom(c).setIdentity(ServiceIdentity, ServiceIdentity, "")

	token := strings.TrimSpace(c.GetHeader(HeaderServiceToken))
	if token == "" {
		if bearer, err := jwt.ExtractBearerToken(c.GetHeader("Authorization")); err == nil {
			token = bearer
		}
	}

	if token == "" {
		writeError(c, newError(KindAuthentication, "Missing service token"))
		return
	}
	if p.serviceToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(p.serviceToken)) != 1 {
		p.logger.WithContext(c.Request.Context()).Warn("invalid service token",
			observability.String("path", c.Request.URL.Path),
			observability.String("client_ip", c.ClientIP()),
		)
		writeError(c, newError(KindAuthentication, "Invalid service token"))
		return
	}

	c.Next()
}

// route validates, authorizes and forwards one MCP envelope.
func (p *controlPlane) route(c *gin.Context) {
	ctx := c.Request.Context()
	state := stateFrom(c)

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		readErr := bodyReadError(err)
		message := "Invalid Request"
		if readErr.Kind == KindPayloadTooLarge {
			message = readErr.Message
		}
		writeRPCError(c, readErr.Kind.HTTPStatus(), mcp.NewErrorResponse(nil, mcp.CodeInvalidRequest, message), readErr.auditReason())
		return
	}

	req, err := mcp.DecodeRequest(data)
	var id json.RawMessage
	if req != nil {
		id = req.ID
		if req.Method != "" {
			state.method = "MCP:" + req.Method
		}
	}
	state.onPanic = func(c *gin.Context) {
		writeRPCError(c, http.StatusInternalServerError,
			mcp.NewErrorResponse(id, mcp.CodeInternalError, "Internal server error"), "")
	}
	if err != nil {
		resp := mcp.NewErrorResponse(id, mcp.CodeInvalidRequest, "Invalid Request")
		resp.Error.Data = err.Error()
		writeRPCError(c, http.StatusBadRequest, resp, err.Error())
		return
	}

	if !mcp.IsSupportedMethod(req.Method) {
		resp := mcp.MethodNotFound(id, req.Method)
		writeRPCError(c, http.StatusOK, resp, resp.Error.Message)
		return
	}

	department := req.Department()
	if department == "" {
		department = strings.TrimSpace(c.GetHeader(HeaderMCPServerType))
	}
	if department == "" {
		writeError(c, newError(KindValidation, "Missing department in request"))
		return
	}
	state.department = department

	server, ok := p.servers.Lookup(department)
	if !ok {
		writeError(c, newError(KindUnresolvedResource, "Unknown department"))
		return
	}
	state.department = server.Type

	if e := p.authorize(c, server); e != nil {
		p.logger.WithContext(ctx).Warn("mcp request denied",
			observability.String("department", server.Type),
			observability.String("method", req.Method),
			observability.String("reason", e.Reason),
		)
		writeError(c, e)
		return
	}

	if server.URL == "" {
		p.logger.WithContext(ctx).Error("no mcp server configured for department",
			observability.String("department", server.Type),
		)
		writeError(c, newError(KindUnresolvedResource, "MCP server not found"))
		return
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(middleware.RequestIDHeader, middleware.GetRequestID(c))

	resp, err := p.forwarder.Do(ctx, server.Type, &forwarder.Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Header: header,
		Body:   data,
	})
	if err != nil {
		p.logger.WithContext(ctx).Error("failed to forward mcp request",
			observability.String("destination", server.Type),
			observability.String("method", req.Method),
			observability.Error(err),
		)
		writeError(c, newError(KindUpstreamUnavailable, "MCP server unavailable").withCause(err))
		return
	}

	relay(c, resp)
}

// authorize applies the role checks. Requests without a roles header are
// trusted unless roles are required.
func (p *controlPlane) authorize(c *gin.Context, server mcp.Server) *Error {
	roles, present := parseRoles(c.GetHeader(HeaderUserRoles))
	if !present {
		if p.requireUserRoles {
			return newError(KindAuthorization, "Access denied").withReason(ReasonMissingRoles)
		}
		return nil
	}

	if p.rbacEnabled && !p.policy.CheckPermission(roles, server.Resource, rbac.ActionRead) {
		return newError(KindAuthorization, "Access denied").withReason(ReasonRBACDenied)
	}

	if p.departmentIsolation && !containsFold(roles, server.Type) {
		return newError(KindAuthorization, "Access denied: department isolation").withReason(ReasonIsolationViolation)
	}

	return nil
}

// listServers returns the servers the caller's roles can reach, or every
// configured server when no roles are supplied.
func (p *controlPlane) listServers(c *gin.Context) {
	servers := p.servers.Configured()
	if roles, present := parseRoles(c.GetHeader(HeaderUserRoles)); present {
		servers = p.servers.ForResources(p.policy.AccessibleResources(roles))
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

// parseRoles splits a comma separated roles header. present is false when
// the header is absent or blank.
func parseRoles(header string) (roles []string, present bool) {
	if strings.TrimSpace(header) == "" {
		return nil, false
	}
	for _, r := range strings.Split(header, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles, true
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// writeRPCError aborts with a JSON-RPC error envelope.
func writeRPCError(c *gin.Context, status int, resp *mcp.Response, reason string) {
	if reason != "" {
		stateFrom(c).reason = reason
	}
	c.AbortWithStatusJSON(status, resp)
}
