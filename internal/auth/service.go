package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2beens/lxcgate/internal/telemetry/tracing"
	"github.com/2beens/lxcgate/internal/users"
	"github.com/2beens/lxcgate/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrUsernameTaken      = users.ErrUsernameTaken
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMissingCredentials = errors.New("username and password are required")
	ErrInvalidToken       = errors.New("invalid token")
)

type Service struct {
	store      users.Store
	secret     []byte
	ttl        time.Duration
	bcryptCost int
	// compared against when the username is unknown, so both login failures cost the same
	dummyHash string
	// ability to inject the clock (for unit and dev testing)
	NowFunc func() time.Time
}

func NewService(
	store users.Store,
	secret []byte,
	ttl time.Duration,
	bcryptCost int,
) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("token signing secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	dummyHash, err := pkg.HashPasswordWithCost("lxcgate-dummy-password", bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &Service{
		store:      store,
		secret:     secret,
		ttl:        ttl,
		bcryptCost: bcryptCost,
		dummyHash:  dummyHash,
		NowFunc:    time.Now,
	}, nil
}

func (s *Service) TTL() time.Duration {
	return s.ttl
}

// SignUp registers a new credential. The uniqueness check and the write happen
// inside one store update, so concurrent signups cannot lose each other.
func (s *Service) SignUp(ctx context.Context, username, password string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authService.signUp")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("user.name", username))

	if strings.TrimSpace(username) == "" || password == "" {
		return ErrMissingCredentials
	}

	// hashing is slow, keep it out of the store's critical section
	passwordHash, err := pkg.HashPasswordWithCost(password, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.store.Update(ctx, func(records []users.Credential) ([]users.Credential, error) {
		if _, found := users.Find(records, username); found {
			return nil, ErrUsernameTaken
		}
		return append(records, users.Credential{
			Username:     username,
			PasswordHash: passwordHash,
		}), nil
	})
}

// LogIn checks the credentials and returns a signed session token.
func (s *Service) LogIn(ctx context.Context, username, password string) (_ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authService.logIn")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("user.name", username))

	if username == "" || password == "" {
		return "", ErrMissingCredentials
	}

	records := s.store.Load(ctx)
	user, found := users.Find(records, username)
	if !found {
		_ = pkg.CheckPasswordHash(password, s.dummyHash)
		log.Tracef("[username] failed login attempt for user: %s", username)
		return "", ErrInvalidCredentials
	}

	if !pkg.CheckPasswordHash(password, user.PasswordHash) {
		log.Tracef("[password] failed login attempt for user: %s", username)
		return "", ErrInvalidCredentials
	}

	token, err := SignToken(s.secret, username, s.NowFunc(), s.ttl)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return token, nil
}

// ValidateToken returns the claims of a token issued by this service, or
// ErrInvalidToken if it is malformed, tampered with, or expired.
func (s *Service) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	_, span := tracing.GlobalTracer.Start(ctx, "authService.validateToken")
	defer span.End()
	return ParseToken(s.secret, token, s.NowFunc)
}
