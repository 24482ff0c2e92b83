package wallet

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/tarancss/vcw/lib/store"
)

// tokenTTL is how long an issued auth token stays valid.
const tokenTTL = 24 * time.Hour

// ErrInvalidCredentials is returned for a bad username/password pair. One error for both cases, so login attempts
// cannot probe which usernames exist.
var ErrInvalidCredentials = errors.New("invalid username or password")

type ctxKey int

const userKey ctxKey = 0

// Login authenticates a username/password pair and returns the user and a signed auth token.
func (w *Wallet) Login(username, password string) (store.User, string, error) {
	u, err := w.db.GetUser(username)
	if errors.Is(err, store.ErrUserNotFound) {
		return store.User{}, "", ErrInvalidCredentials
	} else if err != nil {
		return store.User{}, "", err
	}

	if err = bcrypt.CompareHashAndPassword([]byte(u.PassHash), []byte(password)); err != nil {
		return store.User{}, "", ErrInvalidCredentials
	}

	tok, err := w.issueToken(u.Username)
	return u, tok, err
}

// issueToken signs a JWT carrying the username.
func (w *Wallet) issueToken(username string) (string, error) {
	claims := jwt.MapClaims{
		"sub": username,
		"exp": time.Now().Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(w.jwtKey)
}

// validateToken parses a JWT and returns the username it was issued to.
func (w *Wallet) validateToken(tokenString string) (string, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return w.jwtKey, nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := tok.Claims.(jwt.MapClaims); ok && tok.Valid {
		if sub, ok := claims["sub"].(string); ok {
			return sub, nil
		}
	}
	return "", jwt.ErrSignatureInvalid
}

// authed wraps a handler, requiring a valid bearer token and loading the caller's user record into the request
// context.
func (w *Wallet) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		parts := strings.Split(auth, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}

		username, err := w.validateToken(parts[1])
		if err != nil {
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}

		u, err := w.db.GetUser(username)
		if err != nil {
			// token holder no longer in store
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(rw, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	}
}

// userFrom returns the authenticated user stored in the request context by authed.
func userFrom(r *http.Request) (store.User, bool) {
	u, ok := r.Context().Value(userKey).(store.User)
	return u, ok
}
