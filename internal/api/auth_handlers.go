package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"solarsync/internal/auth"
	"solarsync/internal/models"
	"solarsync/internal/observability/metrics"
	"solarsync/internal/storage"
)

type signupRequest struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	TokenType    string       `json:"token_type"`
	User         userResponse `json:"user"`
}

type userResponse struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	CreatedAt   string   `json:"createdAt"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Roles:       append([]string{}, user.Roles...),
		CreatedAt:   user.CreatedAt.Format(time.RFC3339Nano),
	}
}

// issueTokens mints an access token plus a fresh refresh token for the user.
func (h *Handler) issueTokens(r *http.Request, user models.User) (tokenResponse, error) {
	access, _, err := h.Tokens.Issue(user)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, _, err := h.Sessions.Issue(r.Context(), user.ID)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(h.Tokens.TTL().Seconds()),
		TokenType:    "Bearer",
		User:         newUserResponse(user),
	}, nil
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("password must be at least 8 characters"))
		return
	}

	user, err := h.Store.CreateUser(r.Context(), storage.CreateUserParams{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tokens, err := h.issueTokens(r, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokens)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Store.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		metrics.ObserveTokenGrant("password", false)
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid credentials"))
		return
	}

	tokens, err := h.issueTokens(r, user)
	if err != nil {
		metrics.ObserveTokenGrant("password", false)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	metrics.ObserveTokenGrant("password", true)
	writeJSON(w, http.StatusOK, tokens)
}

// Refresh rotates the presented refresh token and returns a new token pair.
// The old refresh token is invalid after a successful call.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	userID, next, _, err := h.Sessions.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		metrics.ObserveTokenGrant("refresh", false)
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid or expired refresh token"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	user, err := h.Store.GetUser(r.Context(), userID)
	if err != nil {
		metrics.ObserveTokenGrant("refresh", false)
		writeError(w, http.StatusUnauthorized, fmt.Errorf("account not found"))
		return
	}
	access, _, err := h.Tokens.Issue(user)
	if err != nil {
		metrics.ObserveTokenGrant("refresh", false)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	metrics.ObserveTokenGrant("refresh", true)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: next,
		ExpiresIn:    int64(h.Tokens.TTL().Seconds()),
		TokenType:    "Bearer",
		User:         newUserResponse(user),
	})
}

// Session returns the authenticated account on GET and revokes the supplied
// refresh token on DELETE.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user, err := h.AuthenticateRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	case http.MethodDelete:
		var req refreshRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("refresh token is required"))
			return
		}
		if err := h.Sessions.Revoke(r.Context(), req.RefreshToken); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// Users handles the admin account collection.

type createUserRequest struct {
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Password    string   `json:"password"`
}

type updateUserRequest struct {
	DisplayName *string   `json:"displayName"`
	Roles       *[]string `json:"roles"`
}

func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		users, err := h.Store.ListUsers(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		response := make([]userResponse, 0, len(users))
		for _, user := range users {
			response = append(response, newUserResponse(user))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		var req createUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := h.Store.CreateUser(r.Context(), storage.CreateUserParams{
			DisplayName: req.DisplayName,
			Email:       req.Email,
			Roles:       req.Roles,
			Password:    req.Password,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, newUserResponse(user))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) UserByID(w http.ResponseWriter, r *http.Request) {
	id := pathSuffix(r, "/api/users/")
	if id == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("user id missing"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		requester, ok := h.requireAuthenticatedUser(w, r)
		if !ok {
			return
		}
		if requester.ID != id && !requester.HasRole(roleAdmin) {
			WriteError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		user, err := h.Store.GetUser(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Errorf("user %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	case http.MethodPatch:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		update := storage.UserUpdate{DisplayName: req.DisplayName}
		if req.Roles != nil {
			rolesCopy := append([]string{}, (*req.Roles)...)
			update.Roles = &rolesCopy
		}
		user, err := h.Store.UpdateUser(r.Context(), id, update)
		if err != nil {
			writeError(w, storageErrorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	case http.MethodDelete:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		if err := h.Store.DeleteUser(r.Context(), id); err != nil {
			writeError(w, storageErrorStatus(err), err)
			return
		}
		if err := h.Sessions.RevokeAll(r.Context(), id); err != nil {
			h.logger().Warn("revoking sessions for deleted user failed", "user_id", id, "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func storageErrorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicate), errors.Is(err, storage.ErrEmailTaken):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
