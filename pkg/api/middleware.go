package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a private type for context keys in the api package.
type contextKey string

const adminUserKey contextKey = "admin_user"

// User holds information about the authenticated admin user.
type User struct {
	UserID string
	Roles  []string
}

// GetUser returns the User from context, or nil if not set.
func GetUser(ctx context.Context) *User {
	u, _ := ctx.Value(adminUserKey).(*User)
	return u
}

// Authenticator validates admin credentials. A nil User with a nil
// error means no usable credentials were presented.
type Authenticator interface {
	Authenticate(r *http.Request) (*User, error)
}

// APIKeyAuthenticator validates admin access via pre-shared API keys.
type APIKeyAuthenticator struct {
	Keys map[string]User // key -> user info
}

// Authenticate checks the X-API-Key header against the configured keys
// with a constant-time comparison.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (*User, error) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		return nil, nil
	}

	for configured, user := range a.Keys {
		if subtle.ConstantTimeCompare([]byte(configured), []byte(key)) == 1 {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

// JWTAuthenticator validates HS256 bearer tokens minted by the external
// identity provider. Token issuance is out of scope; only the signature
// and the roles claim are checked here.
type JWTAuthenticator struct {
	SigningKey []byte
}

// Authenticate parses the Authorization bearer token.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (*User, error) {
	authHeader := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenString == "" {
		return nil, nil
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.SigningKey, nil
	})
	if err != nil || !token.Valid {
		return nil, nil
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, nil
	}

	user := &User{}
	if sub, _ := claims["sub"].(string); sub != "" {
		user.UserID = sub
	}
	if rawRoles, ok := claims["roles"].([]any); ok {
		for _, role := range rawRoles {
			if s, ok := role.(string); ok {
				user.Roles = append(user.Roles, s)
			}
		}
	}
	return user, nil
}

// MultiAuthenticator tries each authenticator in order and accepts the
// first that yields a user.
type MultiAuthenticator []Authenticator

// Authenticate implements Authenticator.
func (m MultiAuthenticator) Authenticate(r *http.Request) (*User, error) {
	for _, a := range m {
		user, err := a.Authenticate(r)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}
	return nil, nil
}

// RequireAdmin creates middleware that enforces admin authentication on
// mutating routes.
func RequireAdmin(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := auth.Authenticate(r)
			if err != nil {
				writeError(w, http.StatusInternalServerError, kindInternal, "authentication error")
				return
			}
			if user == nil {
				writeError(w, http.StatusUnauthorized, kindValidation, "authentication required")
				return
			}

			if !hasAdminRole(user.Roles) {
				writeError(w, http.StatusForbidden, kindValidation, "admin role required")
				return
			}

			ctx := context.WithValue(r.Context(), adminUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// hasAdminRole checks whether the roles list contains "admin".
func hasAdminRole(roles []string) bool {
	return slices.Contains(roles, "admin")
}
