// FILE: auth.go
// Package main – HS256 tokens for the sidecar and the control API.
//
//   • mintBridgeJWT    – short-lived token attached to every sidecar request
//   • parseControlJWT  – verifies operator tokens presented to the control API
//   • requireBearer    – middleware; viewers may read, only operators may act
//
// With an empty secret the middleware is a pass-through (local use).

package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	bridgeAudience = "bidpilot-bridge"
	roleOperator   = "operator"
	roleViewer     = "viewer"
)

// ControlClaims are the claims accepted on the control API.
type ControlClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func mintBridgeJWT(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": subject,
		"aud": bridgeAudience,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"jti": uuid.New().String(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

func parseControlJWT(tokenString, secret string) (*ControlClaims, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &ControlClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Role != roleOperator && claims.Role != roleViewer {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}

func requireBearer(secret string, next http.Handler) http.Handler {
	if secret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		tok, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || tok == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		claims, err := parseControlJWT(strings.TrimSpace(tok), secret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if r.Method != http.MethodGet && claims.Role != roleOperator {
			writeError(w, http.StatusForbidden, errors.New("operator role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
