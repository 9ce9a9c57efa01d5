package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiwari-pos/kds/internal/auth"
	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/logger"
)

// AuthStore defines the database methods needed by auth handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type AuthStore interface {
	GetStaffByCode(ctx context.Context, code string) (database.Staff, error)
}

// AuthHandler handles staff login. Identity management lives elsewhere; this
// only issues tokens for staff already in the database.
type AuthHandler struct {
	store     AuthStore
	jwtSecret string
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(store AuthStore, jwtSecret string) *AuthHandler {
	return &AuthHandler{store: store, jwtSecret: jwtSecret}
}

// RegisterRoutes registers auth endpoints on the given Chi router.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
}

type loginRequest struct {
	Code string `json:"code"`
	Pin  string `json:"pin"`
}

type tokenResponse struct {
	AccessToken string        `json:"access_token"`
	Staff       staffResponse `json:"staff"`
}

type staffResponse struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
	Role enum.Role `json:"role"`
	Kind enum.Kind `json:"kind,omitempty"`
}

// Login handles staff code + PIN authentication.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" || req.Pin == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code and pin are required"})
		return
	}

	staff, err := h.store.GetStaffByCode(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		logger.FromCtx(r.Context()).Error("get staff by code", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(staff.PinHash), []byte(req.Pin)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	token, err := auth.GenerateToken(h.jwtSecret, staff.ID, staff.Role)
	if err != nil {
		logger.FromCtx(r.Context()).Error("generate token", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	kind, _ := staff.Role.PreparerKind()
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		Staff: staffResponse{
			ID:   staff.ID,
			Code: staff.Code,
			Name: staff.Name,
			Role: staff.Role,
			Kind: kind,
		},
	})
}
