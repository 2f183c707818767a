package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"relief/model"
)

// OperatorSubject is the only subject allowed on the operator endpoints.
const OperatorSubject = "operator"

type Claims struct {
	jwt.RegisteredClaims
}

func GenerateToken(subject string, secretKey []byte, validityDuration time.Duration) (string, error) {
	if len(secretKey) == 0 {
		return "", fmt.Errorf("%w: empty signing key", model.ErrUnauthorized)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
	})

	return token.SignedString(secretKey)
}

// VerifyOperatorToken accepts only unexpired HS256 tokens for OperatorSubject.
func VerifyOperatorToken(tokenString string, secretKey []byte) error {
	if len(secretKey) == 0 {
		return fmt.Errorf("%w: operator access disabled", model.ErrUnauthorized)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
	}

	if !token.Valid || claims.Subject != OperatorSubject {
		return fmt.Errorf("%w: invalid token", model.ErrUnauthorized)
	}
	return nil
}
