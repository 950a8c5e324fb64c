package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2beens/lxcgate/internal/auth"
	"github.com/2beens/lxcgate/internal/middleware"
	"github.com/2beens/lxcgate/internal/telemetry/metrics"
	"github.com/2beens/lxcgate/internal/telemetry/tracing"
	"github.com/2beens/lxcgate/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:generate mockgen -source=$GOFILE -destination=handler_mocks_test.go -package=account

type authService interface {
	SignUp(ctx context.Context, username, password string) error
	LogIn(ctx context.Context, username, password string) (string, error)
	TTL() time.Duration
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

type ProtectedResponse struct {
	Message string       `json:"message"`
	User    *auth.Claims `json:"user"`
}

type Handler struct {
	authService    authService
	secureCookie   bool
	metricsManager *metrics.Manager
}

func NewHandler(
	authService authService,
	secureCookie bool,
	metricsManager *metrics.Manager,
) *Handler {
	return &Handler{
		authService:    authService,
		secureCookie:   secureCookie,
		metricsManager: metricsManager,
	}
}

// SetupRoutes registers the public routes on router and /protected on the
// guarded protectedRouter.
func (h *Handler) SetupRoutes(router, protectedRouter *mux.Router) {
	router.HandleFunc("/signup", h.HandleSignUp).Methods("POST", "OPTIONS").Name("signup")
	router.HandleFunc("/login", h.HandleLogIn).Methods("POST", "OPTIONS").Name("login")
	router.HandleFunc("/logout", h.HandleLogOut).Methods("POST", "OPTIONS").Name("logout")
	protectedRouter.HandleFunc("/protected", h.HandleProtected).Methods("GET", "OPTIONS").Name("protected")
}

func (h *Handler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := tracing.GlobalTracer.Start(r.Context(), "accountHandler.signUp")
	defer span.End()

	creds, err := readCredentials(r)
	if err != nil {
		log.Debugf("signup: read credentials: %s", err)
		span.SetStatus(codes.Error, "bad request body")
		h.countSignup(metrics.ResultFailure)
		pkg.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	span.SetAttributes(attribute.String("user.name", creds.Username))

	err = h.authService.SignUp(ctx, creds.Username, creds.Password)
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		span.SetStatus(codes.Error, "username taken")
		h.countSignup(metrics.ResultFailure)
		pkg.WriteJSONError(w, http.StatusBadRequest, "Username already exists")
		return
	case errors.Is(err, auth.ErrMissingCredentials):
		span.SetStatus(codes.Error, "missing credentials")
		h.countSignup(metrics.ResultFailure)
		pkg.WriteJSONError(w, http.StatusBadRequest, "Username and password are required")
		return
	case err != nil:
		log.Errorf("signup for user %s failed: %s", creds.Username, err)
		span.SetStatus(codes.Error, "signup failed")
		h.countSignup(metrics.ResultFailure)
		pkg.WriteJSONError(w, http.StatusInternalServerError, "Failed to sign up user")
		return
	}

	log.Infof("new user signed up: %s", creds.Username)
	span.SetStatus(codes.Ok, "")
	h.countSignup(metrics.ResultOK)
	pkg.WriteJSONMessage(w, "User signed up successfully")
}

func (h *Handler) HandleLogIn(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := tracing.GlobalTracer.Start(r.Context(), "accountHandler.logIn")
	defer span.End()

	creds, err := readCredentials(r)
	if err != nil {
		log.Debugf("login: read credentials: %s", err)
		span.SetStatus(codes.Error, "bad request body")
		h.countLogin(metrics.ResultFailure)
		pkg.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	span.SetAttributes(attribute.String("user.name", creds.Username))

	token, err := h.authService.LogIn(ctx, creds.Username, creds.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrMissingCredentials):
		span.SetStatus(codes.Error, "invalid credentials")
		h.countLogin(metrics.ResultFailure)
		pkg.WriteJSONError(w, http.StatusBadRequest, "Invalid username or password")
		return
	case err != nil:
		log.Errorf("login for user %s failed: %s", creds.Username, err)
		span.SetStatus(codes.Error, "login failed")
		h.countLogin(metrics.ResultFailure)
		pkg.WriteJSONError(w, http.StatusInternalServerError, "Failed to log in user")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.authService.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	log.Debugf("user logged in: %s", creds.Username)
	span.SetStatus(codes.Ok, "")
	h.countLogin(metrics.ResultOK)
	pkg.WriteJSON(w, http.StatusOK, LoginResponse{
		Message: "User logged in successfully",
		Token:   token,
	})
}

// HandleLogOut only expires the cookie; an already issued token stays valid
// until its expiry.
func (h *Handler) HandleLogOut(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	pkg.WriteJSONMessage(w, "User logged out successfully")
}

func (h *Handler) HandleProtected(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		// only reachable when the route is registered without the guard
		log.Errorf("protected route reached without claims: %s", r.URL.Path)
		pkg.WriteJSONError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	pkg.WriteJSON(w, http.StatusOK, ProtectedResponse{
		Message: "This is a protected route.",
		User:    claims,
	})
}

// readCredentials accepts a JSON body, or a url-encoded form.
func readCredentials(r *http.Request) (*credentialsRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return &credentialsRequest{
			Username: r.Form.Get("username"),
			Password: r.Form.Get("password"),
		}, nil
	}

	creds := &credentialsRequest{}
	if err := json.NewDecoder(r.Body).Decode(creds); err != nil {
		return nil, err
	}
	return creds, nil
}

func (h *Handler) countSignup(result string) {
	if h.metricsManager != nil {
		h.metricsManager.CounterSignups.WithLabelValues(result).Inc()
	}
}

func (h *Handler) countLogin(result string) {
	if h.metricsManager != nil {
		h.metricsManager.CounterLogins.WithLabelValues(result).Inc()
	}
}
