package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const operatorContextKey = contextKey("operator")

// Operator is the authenticated caller of the campaign API.
type Operator struct {
	Subject string
	Role    string
}

// OperatorFromContext returns the operator set by OperatorAuth.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorContextKey).(Operator)
	return op, ok
}

// OperatorAuth accepts HS256 bearer tokens signed with secret whose role claim is "operator" or "admin".
func OperatorAuth(secret []byte, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorDTO(w, http.StatusUnauthorized, "unauthorized", "authorization header required")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.WarnContext(r.Context(), "Invalid Authorization header format")
				writeErrorDTO(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				logger.WarnContext(r.Context(), "Token validation failed", "error", err)
				writeErrorDTO(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			claims, _ := token.Claims.(jwt.MapClaims)
			sub, _ := claims.GetSubject()
			role, _ := claims["role"].(string)
			if role != "operator" && role != "admin" {
				logger.WarnContext(r.Context(), "Token lacks operator role", "sub", sub, "role", role)
				writeErrorDTO(w, http.StatusForbidden, "forbidden", "operator role required")
				return
			}

			ctx := context.WithValue(r.Context(), operatorContextKey, Operator{Subject: sub, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
