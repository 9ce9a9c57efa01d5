package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kiwari-pos/kds/internal/enum"
)

// AccessTokenTTL covers one shift.
const AccessTokenTTL = 12 * time.Hour

type Claims struct {
	StaffID uuid.UUID `json:"staff_id"`
	Role    enum.Role `json:"role"`
	Kind    enum.Kind `json:"kind,omitempty"`
	jwt.RegisteredClaims
}

// IsPreparer reports whether the token belongs to a cook or bartender.
func (c *Claims) IsPreparer() bool {
	return c.Kind != ""
}

func GenerateToken(secret string, staffID uuid.UUID, role enum.Role) (string, error) {
	kind, _ := role.PreparerKind()
	now := time.Now()
	claims := Claims{
		StaffID: staffID,
		Role:    role,
		Kind:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.StaffID == uuid.Nil {
		return nil, fmt.Errorf("token has no staff id")
	}
	return claims, nil
}
