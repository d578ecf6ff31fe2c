package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/punchamoorthee/remitledger/internal/domain"
)

// Claims carry the actor in a bearer token. Subject is the actor ID; for
// users it is their account ID.
type Claims struct {
	Kind domain.ActorKind `json:"kind"`
	Role string           `json:"role"`
	jwt.RegisteredClaims
}

type actorKey struct{}

func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing authorization header")
			return
		}
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization header")
			return
		}

		actor, err := a.Parse(token)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// Parse validates a token and returns the actor it names.
func (a *Authenticator) Parse(token string) (domain.Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return domain.Actor{}, errors.New("token has no subject")
	}

	kind := claims.Kind
	if kind == "" {
		kind = domain.ActorUser
	}
	if kind != domain.ActorUser && kind != domain.ActorAdmin {
		return domain.Actor{}, errors.New("token kind not accepted")
	}
	role := domain.RoleUser
	if claims.Role != "" {
		if role, err = domain.ParseRole(claims.Role); err != nil {
			return domain.Actor{}, err
		}
	}
	return domain.Actor{Kind: kind, ID: claims.Subject, Role: role}, nil
}

// SignToken mints a token for actor. It backs tooling and tests; the service
// itself does not issue tokens.
func SignToken(secret string, actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Kind: actor.Kind,
		Role: actor.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
