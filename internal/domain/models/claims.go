package models

import "github.com/golang-jwt/jwt/v5"

// Claims is the claim set on self-referential JWTs issued when OBO itself is
// the target. The jti doubles as the slip id so token revocation and slip
// revocation share one identifier.
type Claims struct {
	jwt.RegisteredClaims

	Principal string   `json:"principal"`
	Scopes    []string `json:"scopes"`
	SlipID    string   `json:"slipId"`
}
