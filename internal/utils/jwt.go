package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken  = errors.New("missing token")
	ErrInvalidHeader = errors.New("invalid authorization header")
)

var jwtSecret = []byte(os.Getenv("JWT_SECRET"))

// Room roles, as stored on the room's collaborator list.
const (
	RoleOwner  = "owner"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

type RoomTokenClaims struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func SetJWTSecret(secret []byte) { jwtSecret = secret }

// AuthEnabled reports whether room tokens are checked at all.
func AuthEnabled() bool { return len(jwtSecret) > 0 }

func ValidateRoomToken(tokenStr string) (*RoomTokenClaims, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	claims := &RoomTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token missing userId")
	}
	if claims.Role == "" {
		claims.Role = RoleEditor
	}
	return claims, nil
}

func SignRoomToken(claims *RoomTokenClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
}

func ExtractTokenFromHeader(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", ErrInvalidHeader
	}
	return strings.TrimSpace(parts[1]), nil
}
