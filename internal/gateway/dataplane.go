package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/agentgateway/internal/auth/jwt"
	"github.com/vyrodovalexey/agentgateway/internal/forwarder"
	"github.com/vyrodovalexey/agentgateway/internal/gateway/server/http/middleware"
	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

const (
	// DestinationApplication is the breaker name of the processing service.
	DestinationApplication = "application"

	// apiPrefix is the legacy route prefix stripped before forwarding.
	apiPrefix = "/api"
)

// TokenVerifier authenticates a bearer Authorization header.
type TokenVerifier interface {
	Verify(ctx context.Context, authorization string) (*jwt.Principal, error)
}

// Forwarder sends a request to a named upstream destination.
type Forwarder interface {
	Do(ctx context.Context, destination string, req *forwarder.Request) (*forwarder.Response, error)
}

// responseHeaderSkip lists upstream headers that the gateway sets itself.
var responseHeaderSkip = map[string]bool{
	"Content-Type":                     true,
	middleware.RequestIDHeader:         true,
	"Access-Control-Allow-Origin":      true,
	"Access-Control-Allow-Credentials": true,
	"Access-Control-Expose-Headers":    true,
	"Vary":                             true,
}

// dataPlane serves the user facing processing API.
type dataPlane struct {
	verifier    TokenVerifier
	forwarder   Forwarder
	upstreamURL string
	logger      observability.Logger
}

func (d *dataPlane) register(r gin.IRoutes) {
	r.POST("/process", d.authenticate, d.forward)
	r.GET("/status/:job_id", d.authenticate, d.forward)
	r.GET("/download/:job_id", d.authenticate, d.forward)
}

// authenticate verifies the bearer token and stores the principal.
func (d *dataPlane) authenticate(c *gin.Context) {
	principal, err := d.verifier.Verify(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		message := "Invalid or expired token"
		switch {
		case errors.Is(err, jwt.ErrMissingHeader):
			message = "Missing Authorization header"
		case errors.Is(err, jwt.ErrMalformedHeader):
			message = "Invalid Authorization header format"
		}
		d.logger.WithContext(c.Request.Context()).Warn("authentication failed",
			observability.String("path", c.Request.URL.Path),
			observability.Error(err),
		)
		writeError(c, newError(KindAuthentication, message).withCause(err))
		return
	}

	stateFrom(c).setIdentity(principal.Subject, principal.Username, principal.Department)
	c.Next()
}

// forward relays the request to the processing service.
func (d *dataPlane) forward(c *gin.Context) {
	ctx := c.Request.Context()

	var body []byte
	if c.Request.Body != nil {
		var err error
		body, err = io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, bodyReadError(err))
			return
		}
	}

	target := strings.TrimSuffix(d.upstreamURL, "/") + strings.TrimPrefix(c.Request.URL.Path, apiPrefix)
	if c.Request.URL.RawQuery != "" {
		target += "?" + c.Request.URL.RawQuery
	}

	header := c.Request.Header.Clone()
	header.Set(middleware.RequestIDHeader, middleware.GetRequestID(c))
	header.Set("X-Forwarded-For", c.ClientIP())

	resp, err := d.forwarder.Do(ctx, DestinationApplication, &forwarder.Request{
		Method: c.Request.Method,
		URL:    target,
		Header: header,
		Body:   body,
	})
	if err != nil {
		d.logger.WithContext(ctx).Error("failed to forward request",
			observability.String("destination", DestinationApplication),
			observability.String("path", c.Request.URL.Path),
			observability.Error(err),
		)
		writeError(c, newError(KindUpstreamUnavailable, "Backend service unavailable").withCause(err))
		return
	}

	relay(c, resp)
}

// relay writes an upstream response unchanged.
func relay(c *gin.Context, resp *forwarder.Response) {
	for name, values := range resp.Header {
		if responseHeaderSkip[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Data(resp.StatusCode, ct, resp.Body)
		return
	}
	c.Status(resp.StatusCode)
	_, _ = c.Writer.Write(resp.Body)
}
