package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"payment-auth-service/pkg/httputil"
)

type contextKey string

const accountIDKey contextKey = "accountID"

// WithAccountID は呼び出し元アカウントIDをcontextに格納する。
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// AccountIDFromContext は呼び出し元アカウントIDを返す。未認証の場合は空文字。
func AccountIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(accountIDKey).(string)
	return id
}

// Authenticate はHS256で署名されたBearerトークンを検証し、subクレームを呼び出し元アカウントIDとする。
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenString == "" {
				httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "bearer token required")
				return
			}

			accountID, err := parseSubject(parser, tokenString, secret)
			if err != nil {
				httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
		})
	}
}

func parseSubject(parser *jwt.Parser, tokenString string, secret []byte) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim is missing")
	}
	return claims.Subject, nil
}
