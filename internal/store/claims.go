package store

import (
	"time"

	"areahood/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims reads the claims of a JWT without verifying the signature.
func tokenClaims(token string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// roleFromToken derives the role from the same claim the backend issued.
func roleFromToken(token string) (models.Role, bool) {
	claims, ok := tokenClaims(token)
	if !ok {
		return "", false
	}
	if admin, ok := claims["is_admin"].(bool); ok && admin {
		return models.RoleAdmin, true
	}
	for _, k := range []string{"role", "account_type", "accountType", "user_type"} {
		if s, ok := claims[k].(string); ok && s != "" {
			return models.DeriveRole(s), true
		}
	}
	return "", false
}

// tokenExpired reports whether the token carries an exp claim in the past.
func tokenExpired(token string, now time.Time) bool {
	claims, ok := tokenClaims(token)
	if !ok {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.Time.After(now)
}
