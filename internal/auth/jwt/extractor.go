package jwt

import "strings"

// ExtractBearerToken returns the token from an Authorization header value.
// The scheme is matched case-insensitively and the value must consist of
// exactly the scheme and the token separated by a single space.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingHeader
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrMalformedHeader
	}
	return parts[1], nil
}
