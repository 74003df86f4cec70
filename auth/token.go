package auth

import (
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/koorukuroo/contest-engine/domain"
)

var jwtKey = []byte(os.Getenv("JWT_SECRET"))

func init() {
	if len(jwtKey) == 0 {
		// Fallback for development only - in production
		// config.Config.Validate rejects a missing JWT_SECRET, so the
		// server does not start without one.
		jwtKey = []byte("super_secret_dev_key_do_not_use_in_prod")
	}
}

// Claims is carried by admin session tokens only; participant
// requests authenticate with an API key, never a JWT.
type Claims struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a new admin session token using the global JWT key
func GenerateJWT(user *domain.User) (string, error) {
	return GenerateJWTWithSecret(user, jwtKey)
}

// GenerateJWTWithSecret creates a new admin session token with a specific secret
func GenerateJWTWithSecret(user *domain.User, secret []byte) (string, error) {
	expirationTime := time.Now().Add(24 * time.Hour)
	claims := &Claims{
		UserID:  user.ID.String(),
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "contest-engine",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims if valid
func ValidateToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}

	return claims, nil
}

// ValidateTokenWithDefault validates a JWT token using the global secret
func ValidateTokenWithDefault(tokenString string) (*Claims, error) {
	return ValidateToken(tokenString, jwtKey)
}
