// internal/probe/token.go
package probe

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo describes a bearer token without exposing it.
type TokenInfo struct {
	Length    int        `json:"length"`
	JWT       bool       `json:"jwt"`
	Algorithm string     `json:"algorithm,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	IssuedAt  *time.Time `json:"issuedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Expired   bool       `json:"expired"`
}

var unverified = jwt.NewParser()

// InspectToken decodes the token's claims without verifying its signature.
// Opaque tokens yield only their length.
func InspectToken(raw string, now time.Time) TokenInfo {
	info := TokenInfo{Length: len(raw)}
	token, _, err := unverified.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return info
	}
	info.JWT = true
	if alg, ok := token.Header["alg"].(string); ok {
		info.Algorithm = alg
	}

	claims := token.Claims
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		t := iat.Time.UTC()
		info.IssuedAt = &t
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time.UTC()
		info.ExpiresAt = &t
		info.Expired = !now.Before(t)
	}
	return info
}
