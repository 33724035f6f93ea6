// Package jwt verifies identity-provider issued bearer tokens.
//
// A Verifier checks the Authorization header shape, resolves the
// token's key id through a KeySet, verifies the signature and expiry
// with lestrrat-go/jwx, requires token_use=access and returns a
// Principal carrying the caller's groups and derived department.
//
//	keys, _ := jwt.NewJWKSKeySet(cfg.Auth.JWKSEndpoint())
//	verifier, _ := jwt.NewVerifier(keys)
//	principal, err := verifier.Verify(ctx, r.Header.Get("Authorization"))
//	if errors.Is(err, jwt.ErrExpired) {
//	    // 401
//	}
package jwt
