package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

// Claim names used by the identity provider.
const (
	ClaimTokenUse     = "token_use"
	ClaimUsername     = "username"
	ClaimAltUsername  = "cognito:username"
	ClaimEmail        = "email"
	DefaultRolesClaim = "cognito:groups"

	tokenUseAccess = "access"
)

// Verifier validates bearer tokens and builds principals from them.
type Verifier struct {
	keys            KeySet
	algorithms      map[jwa.SignatureAlgorithm]struct{}
	rolesClaim      string
	departmentClaim string
	clock           func() time.Time
	logger          observability.Logger
	metrics         *Metrics
}

// VerifierOption configures a Verifier.
type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	algorithms      []string
	rolesClaim      string
	departmentClaim string
	clock           func() time.Time
	logger          observability.Logger
	metrics         *Metrics
}

// WithAlgorithms sets the accepted signing algorithms. Defaults to RS256.
func WithAlgorithms(algs ...string) VerifierOption {
	return func(o *verifierOptions) {
		o.algorithms = algs
	}
}

// WithRolesClaim sets the claim holding the caller's groups.
func WithRolesClaim(name string) VerifierOption {
	return func(o *verifierOptions) {
		if name != "" {
			o.rolesClaim = name
		}
	}
}

// WithDepartmentClaim names a claim that, when present, takes precedence
// over the first group as the caller's department.
func WithDepartmentClaim(name string) VerifierOption {
	return func(o *verifierOptions) {
		o.departmentClaim = name
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(clock func() time.Time) VerifierOption {
	return func(o *verifierOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(logger observability.Logger) VerifierOption {
	return func(o *verifierOptions) {
		o.logger = logger
	}
}

// WithVerifierMetrics sets the metrics sink.
func WithVerifierMetrics(m *Metrics) VerifierOption {
	return func(o *verifierOptions) {
		o.metrics = m
	}
}

// NewVerifier creates a Verifier that resolves keys from keys.
func NewVerifier(keys KeySet, opts ...VerifierOption) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("key set is required")
	}

	o := verifierOptions{
		algorithms: []string{"RS256"},
		rolesClaim: DefaultRolesClaim,
		clock:      time.Now,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(o.algorithms) == 0 {
		return nil, errors.New("at least one signing algorithm is required")
	}
	allowed := make(map[jwa.SignatureAlgorithm]struct{}, len(o.algorithms))
	for _, name := range o.algorithms {
		var alg jwa.SignatureAlgorithm
		if err := alg.Accept(name); err != nil {
			return nil, fmt.Errorf("unsupported signing algorithm %q: %w", name, err)
		}
		if alg == jwa.NoSignature || strings.HasPrefix(alg.String(), "HS") {
			return nil, fmt.Errorf("signing algorithm %q is not allowed", name)
		}
		allowed[alg] = struct{}{}
	}

	return &Verifier{
		keys:            keys,
		algorithms:      allowed,
		rolesClaim:      o.rolesClaim,
		departmentClaim: o.departmentClaim,
		clock:           o.clock,
		logger:          o.logger,
		metrics:         o.metrics,
	}, nil
}

// Verify authenticates the raw Authorization header value.
func (v *Verifier) Verify(ctx context.Context, authorization string) (*Principal, error) {
	start := time.Now()

	principal, err := v.verify(ctx, authorization)
	v.metrics.observeVerification(err, time.Since(start))
	if err != nil {
		v.logger.WithContext(ctx).Debug("bearer token rejected",
			observability.String("reason", reasonLabel(err)),
			observability.Error(err),
		)
		return nil, err
	}
	return principal, nil
}

func (v *Verifier) verify(ctx context.Context, authorization string) (*Principal, error) {
	raw, err := ExtractBearerToken(authorization)
	if err != nil {
		return nil, newAuthError(err, nil)
	}
	return v.VerifyToken(ctx, raw)
}

// VerifyToken authenticates a compact serialized token.
func (v *Verifier) VerifyToken(ctx context.Context, raw string) (*Principal, error) {
	msg, err := jws.Parse([]byte(raw))
	if err != nil {
		return nil, newAuthError(ErrSignatureInvalid, err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, newAuthError(ErrSignatureInvalid, fmt.Errorf("expected one signature, got %d", len(sigs)))
	}
	headers := sigs[0].ProtectedHeaders()

	kid := headers.KeyID()
	if kid == "" {
		return nil, newAuthError(ErrUnknownSigningKey, errors.New("token header has no kid"))
	}

	alg := headers.Algorithm()
	if _, ok := v.algorithms[alg]; !ok {
		return nil, newAuthError(ErrSignatureInvalid, fmt.Errorf("algorithm %q not accepted", alg))
	}

	key, err := v.keys.GetKey(ctx, kid)
	if err != nil {
		return nil, newAuthError(ErrUnknownSigningKey, err)
	}

	token, err := jwxjwt.Parse([]byte(raw),
		jwxjwt.WithKey(alg, key),
		jwxjwt.WithValidate(true),
		jwxjwt.WithRequiredClaim(jwxjwt.ExpirationKey),
		jwxjwt.WithClock(jwxjwt.ClockFunc(v.clock)),
	)
	if err != nil {
		if errors.Is(err, jwxjwt.ErrTokenExpired()) {
			return nil, newAuthError(ErrExpired, err)
		}
		return nil, newAuthError(ErrSignatureInvalid, err)
	}

	if use, _ := claimString(token, ClaimTokenUse); use != tokenUseAccess {
		return nil, newAuthError(ErrWrongTokenUse, fmt.Errorf("token_use is %q", use))
	}

	return v.principalFromToken(token), nil
}

func (v *Verifier) principalFromToken(token jwxjwt.Token) *Principal {
	var roles []string
	if raw, ok := token.Get(v.rolesClaim); ok {
		roles = stringList(raw)
	}

	username, _ := claimString(token, ClaimUsername)
	if username == "" {
		username, _ = claimString(token, ClaimAltUsername)
	}
	email, _ := claimString(token, ClaimEmail)

	var claimedDept string
	if v.departmentClaim != "" {
		claimedDept, _ = claimString(token, v.departmentClaim)
	}

	return &Principal{
		Subject:    token.Subject(),
		Username:   username,
		Department: deriveDepartment(claimedDept, roles),
		Roles:      roles,
		Email:      email,
	}
}

func claimString(token jwxjwt.Token, name string) (string, bool) {
	raw, ok := token.Get(name)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}
