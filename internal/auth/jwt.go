// Package auth verifies bearer tokens from the identity provider and
// extracts the subject and role set the gateway authorizes against.
// The gateway never issues tokens itself.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Subject is the authenticated caller. Anonymous callers get the zero
// value with Anonymous set.
type Subject struct {
	ID        string
	Roles     []string
	Anonymous bool
}

func (s Subject) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Claims struct {
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Verify parses the token and returns the subject with the union of
// realm and client roles.
func (v *Verifier) Verify(tokenStr string) (Subject, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// Enforce HS256

		_, ok := t.Method.(*jwt.SigningMethodHMAC)

		if !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})

	if err != nil {
		return Subject{}, err
	}

	claims, ok := token.Claims.(*Claims)

	if !ok || !token.Valid {
		return Subject{}, errors.New("invalid token")
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return Subject{}, errors.New("unexpected issuer")
	}

	if claims.Subject == "" {
		return Subject{}, errors.New("token has no subject")
	}

	roles := append([]string(nil), claims.RealmAccess.Roles...)
	for _, ra := range claims.ResourceAccess {
		roles = append(roles, ra.Roles...)
	}

	return Subject{ID: claims.Subject, Roles: roles}, nil
}
