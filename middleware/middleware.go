package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"runnerhub/globals"
	"runnerhub/models"
	"runnerhub/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
)

// JWT claims
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HMAC-signed bearer tokens issued by the
// external auth service.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret}
}

// Authenticate resolves a credential ("Bearer <jwt>" or the bare token) to
// an identity.
func (a *JWTAuthenticator) Authenticate(credential string) (models.Identity, error) {
	tokenString := strings.TrimSpace(credential)
	if len(tokenString) > 7 && strings.EqualFold(tokenString[:7], "bearer ") {
		tokenString = strings.TrimSpace(tokenString[7:])
	}
	if tokenString == "" {
		return models.Identity{}, fmt.Errorf("missing token: %w", models.ErrInvalidCredential)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return models.Identity{}, fmt.Errorf("%v: %w", err, models.ErrInvalidCredential)
	}

	id := models.Identity{ID: claims.UserID, Role: models.Role(claims.Role)}
	if id.ID == "" || !id.Role.Valid() {
		return models.Identity{}, fmt.Errorf("token lacks a user id or known role: %w", models.ErrInvalidCredential)
	}
	return id, nil
}

// IssueToken signs a token for id. Production tokens come from the auth
// service; this is for local development and tests.
func IssueToken(secret []byte, id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: id.ID,
		Role:   string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Require rejects requests without a valid bearer token and stores the
// identity in the request context.
func (a *JWTAuthenticator) Require(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := a.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			utils.RespondWithError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), globals.IdentityKey, id)
		next(w, r.WithContext(ctx), ps)
	}
}

func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(globals.IdentityKey).(models.Identity)
	return id, ok && id.ID != ""
}
