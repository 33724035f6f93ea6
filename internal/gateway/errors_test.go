package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_Mapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind       Kind
		wantName   string
		wantStatus int
		wantCode   string
	}{
		{KindInternal, "internal", http.StatusInternalServerError, "internal_error"},
		{KindAuthentication, "authentication", http.StatusUnauthorized, "unauthorized"},
		{KindAuthorization, "authorization", http.StatusForbidden, "forbidden"},
		{KindValidation, "validation", http.StatusBadRequest, "bad_request"},
		{KindUnresolvedResource, "unresolved_resource", http.StatusNotFound, "not_found"},
		{KindUpstreamUnavailable, "upstream_unavailable", http.StatusBadGateway, "bad_gateway"},
		{KindPayloadTooLarge, "payload_too_large", http.StatusRequestEntityTooLarge, "payload_too_large"},
		{Kind(42), "kind(42)", http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantName, tt.kind.String())
			assert.Equal(t, tt.wantStatus, tt.kind.HTTPStatus())
			assert.Equal(t, tt.wantCode, tt.kind.code())
		})
	}
}

func TestError_Is(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("forwarding: %w", newError(KindUpstreamUnavailable, "Backend service unavailable").withCause(cause))

	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, "upstream_unavailable: Backend service unavailable: dial tcp: connection refused",
		errors.Unwrap(err).Error())
	assert.Equal(t, "authorization: Access denied", newError(KindAuthorization, "Access denied").Error())
}

func TestError_AuditReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ReasonRBACDenied,
		newError(KindAuthorization, "Access denied").withReason(ReasonRBACDenied).withCause(errors.New("x")).auditReason())
	assert.Equal(t, "token expired",
		newError(KindAuthentication, "Invalid or expired token").withCause(errors.New("token expired")).auditReason())
	assert.Equal(t, "Unknown department", newError(KindUnresolvedResource, "Unknown department").auditReason())
}

func TestBodyReadError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantMsg  string
	}{
		{
			name:     "limit exceeded",
			err:      fmt.Errorf("read: %w", &http.MaxBytesError{Limit: 16}),
			wantKind: KindPayloadTooLarge,
			wantMsg:  "Request body too large",
		},
		{
			name:     "broken stream",
			err:      errors.New("unexpected EOF"),
			wantKind: KindValidation,
			wantMsg:  "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := bodyReadError(tt.err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantMsg, got.Message)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}
