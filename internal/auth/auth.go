// Package auth mints short-lived Qdrant access tokens. Qdrant accepts a JWT
// signed with its API key (HS256) when jwt_rbac is enabled, and restricts the
// bearer to the collections listed in the "access" claim.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Access is a Qdrant permission level.
type Access string

const (
	AccessRead      Access = "r"
	AccessReadWrite Access = "rw"
)

// DefaultTTL is used when NewCollectionToken is given a non-positive ttl.
const DefaultTTL = 24 * time.Hour

// CollectionAccess grants one permission level on one collection.
type CollectionAccess struct {
	Collection string `json:"collection"`
	Access     Access `json:"access"`
}

type Claims struct {
	Access []CollectionAccess `json:"access"`
	jwt.RegisteredClaims
}

var ErrInvalidToken = errors.New("invalid token")

// NewCollectionToken returns a token granting access on collection, signed
// with apiKey and valid for ttl.
func NewCollectionToken(apiKey, collection string, access Access, ttl time.Duration) (string, error) {
	return newCollectionToken(apiKey, collection, access, ttl, time.Now())
}

func newCollectionToken(apiKey, collection string, access Access, ttl time.Duration, now time.Time) (string, error) {
	if apiKey == "" {
		return "", errors.New("api key is required to sign a token")
	}
	if collection == "" {
		return "", errors.New("collection is required")
	}
	switch access {
	case AccessRead, AccessReadWrite:
	default:
		return "", fmt.Errorf("unsupported access %q", access)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	claims := Claims{
		Access: []CollectionAccess{{Collection: collection, Access: access}},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "codeindexer",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(apiKey))
}

// ParseToken validates a token signed with apiKey and returns its claims.
func ParseToken(apiKey, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(apiKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// Allows reports whether the claims grant at least access on collection.
func (c *Claims) Allows(collection string, access Access) bool {
	for _, a := range c.Access {
		if a.Collection != collection {
			continue
		}
		if a.Access == AccessReadWrite || a.Access == access {
			return true
		}
	}
	return false
}
