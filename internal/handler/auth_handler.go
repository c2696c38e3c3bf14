package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"unisocial-auth/internal/audit"
	"unisocial-auth/internal/model"
	"unisocial-auth/internal/service"
	"unisocial-auth/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var ErrMissingToken = errors.New("missing or malformed Authorization header")

// eventRecorder is what the handler needs from the audit trail. Recording is
// fire-and-forget; a nil recorder disables it.
type eventRecorder interface {
	Record(event model.AuthEvent)
}

// AuthHandler handles HTTP requests for the auth lifecycle
type AuthHandler struct {
	authService *service.AuthService
	recorder    eventRecorder
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, recorder eventRecorder, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		recorder:    recorder,
		logger:      logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		// Public routes
		r.Post("/register", h.Register)
		r.Post("/verify-otp", h.VerifyOTP)
		r.Post("/login", h.Login)
		r.Get("/health", h.HealthCheck)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)
		})
	})
}

// Register handles new account registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("email, username and password are required"), "Missing required fields")
		return
	}

	err := h.authService.Register(ctx, service.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	h.record(audit.EventRegister, req.Email, r, err)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Registration failed")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(nil,
		"Registration successful. Please check your email for OTP verification code."))
	h.logger.Info("User registered via HTTP",
		util.String("email", req.Email),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"),
	)
}

// VerifyOTP handles email verification
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Email == "" || req.OTP == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("email and otp are required"), "Missing required fields")
		return
	}

	err := h.authService.VerifyOTP(ctx, req.Email, req.OTP)
	h.record(audit.EventVerify, req.Email, r, err)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Verification failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil,
		"Email verified successfully. You can now login."))
	h.logger.Info("User verified via HTTP",
		util.String("email", req.Email),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "VerifyOTP"),
	)
}

// Login handles credential login and mints a session token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("email and password are required"), "Missing required fields")
		return
	}

	signed, err := h.authService.Login(ctx, req.Email, req.Password)
	h.record(audit.EventLogin, req.Email, r, err)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Login failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(loginResponse{
		Token:     signed,
		TokenType: "Bearer",
	}, "Login successful"))
	h.logger.Info("User logged in via HTTP",
		util.String("email", req.Email),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Login"),
	)
}

// Logout revokes the presented bearer token
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	tokenString, err := bearerToken(r)
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, err, "Missing token")
		return
	}

	err = h.authService.Logout(ctx, tokenString)
	h.record(audit.EventLogout, SubjectFromContext(ctx), r, err)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Logout failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logout successful"))
	h.logger.Info("User logged out via HTTP",
		util.String("subject", SubjectFromContext(ctx)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Logout"),
	)
}

// Me returns the authenticated subject, mostly as a session liveness probe
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFromContext(r.Context())
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"email": subject,
	}, "Session is active"))
}

// HealthCheck handles service health check
func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Service is healthy"))
}

func (h *AuthHandler) record(eventType, email string, r *http.Request, err error) {
	if h.recorder == nil {
		return
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	h.recorder.Record(model.AuthEvent{
		EventType: eventType,
		Email:     email,
		RemoteIP:  r.RemoteAddr,
		Success:   err == nil,
		Detail:    detail,
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrMissingToken
	}
	return parts[1], nil
}

// Helper Methods

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *AuthHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrEmailConflict),
		errors.Is(err, service.ErrUsernameConflict),
		errors.Is(err, service.ErrAlreadyVerified):
		return http.StatusConflict
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidOTP):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrNotVerified),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrTokenRevoked),
		errors.Is(err, ErrMissingToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
