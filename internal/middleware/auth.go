package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/2beens/lxcgate/internal/auth"
	"github.com/2beens/lxcgate/internal/telemetry/tracing"
	"github.com/2beens/lxcgate/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:generate mockgen -source=$GOFILE -destination=auth_mocks_test.go -package=middleware_test

const TokenCookieName = "token"

var ErrUnauthorized = errors.New("no token provided")

type tokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

type claimsCtxKey struct{}

// AccessGuard admits a request only if it carries a valid session token cookie.
type AccessGuard struct {
	validator tokenValidator
}

func NewAccessGuard(validator tokenValidator) *AccessGuard {
	return &AccessGuard{
		validator: validator,
	}
}

// Authorize returns the token claims of the request, ErrUnauthorized when no
// token cookie is present, or auth.ErrInvalidToken when the token does not verify.
func (g *AccessGuard) Authorize(r *http.Request) (*auth.Claims, error) {
	cookie, err := r.Cookie(TokenCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrUnauthorized
	}

	claims, err := g.validator.ValidateToken(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return nil, err
		}
		return nil, errors.Join(auth.ErrInvalidToken, err)
	}
	return claims, nil
}

func (g *AccessGuard) Guard() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.accessGuard")
			defer span.End()

			if r.Method == http.MethodOptions {
				span.SetStatus(codes.Ok, "options-ok")
				next.ServeHTTP(w, r)
				return
			}

			claims, err := g.Authorize(r.WithContext(ctx))
			switch {
			case errors.Is(err, ErrUnauthorized):
				log.Tracef("[missing token] [access guard] unauthorized => %s", r.URL.Path)
				span.SetStatus(codes.Error, "missing-token")
				pkg.WriteJSONError(w, http.StatusUnauthorized, "Access denied. No token provided.")
				return
			case err != nil:
				log.Debugf("[invalid token] [access guard] => %s: %s", r.URL.Path, err)
				span.SetStatus(codes.Error, "invalid-token")
				pkg.WriteJSONError(w, http.StatusBadRequest, "Invalid token.")
				return
			}

			span.SetAttributes(attribute.String("user.name", claims.Username))
			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, claims)))
		})
	}
}

func ContextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, claims)
}

// ClaimsFromContext returns the claims stored by the access guard.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsCtxKey{}).(*auth.Claims)
	return claims, ok && claims != nil
}
