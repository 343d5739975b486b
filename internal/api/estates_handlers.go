package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"solarsync/internal/models"
	"solarsync/internal/storage"
)

type estateRequest struct {
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	EstateType  string  `json:"estateType"`
	Description string  `json:"description"`
	AreaSqm     float64 `json:"areaSqm"`
	NumUnits    int     `json:"numUnits"`
	Active      *bool   `json:"active"`
}

type estateResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Address     string  `json:"address,omitempty"`
	EstateType  string  `json:"estateType,omitempty"`
	Description string  `json:"description,omitempty"`
	AreaSqm     float64 `json:"areaSqm,omitempty"`
	NumUnits    int     `json:"numUnits"`
	Active      bool    `json:"active"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

func newEstateResponse(estate models.ResidentialEstate) estateResponse {
	return estateResponse{
		ID:          estate.ID,
		Name:        estate.Name,
		Address:     estate.Address,
		EstateType:  estate.EstateType,
		Description: estate.Description,
		AreaSqm:     estate.AreaSqm,
		NumUnits:    estate.NumUnits,
		Active:      estate.Active,
		CreatedAt:   estate.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   estate.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// Estates handles the estate collection: list for any authenticated user,
// create for admins and operators.
func (h *Handler) Estates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAuthenticatedUser(w, r); !ok {
			return
		}
		estates, err := h.Store.ListEstates(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		response := make([]estateResponse, 0, len(estates))
		for _, estate := range estates {
			response = append(response, newEstateResponse(estate))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		if _, ok := h.requireRole(w, r, roleAdmin, roleOperator); !ok {
			return
		}
		var req estateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("estate name is required"))
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		estate, err := h.Store.CreateEstate(r.Context(), storage.EstateParams{
			Name:        req.Name,
			Address:     req.Address,
			EstateType:  req.EstateType,
			Description: req.Description,
			AreaSqm:     req.AreaSqm,
			NumUnits:    req.NumUnits,
			Active:      active,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, newEstateResponse(estate))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// EstateStructure lists every estate with its linked plant count, for
// dropdowns and navigation trees.
func (h *Handler) EstateStructure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	structure, err := h.Store.EstateStructure(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, structure)
}

// EstateByID dispatches /api/estates/{id} and its summary and offline
// subresources.
func (h *Handler) EstateByID(w http.ResponseWriter, r *http.Request) {
	suffix := pathSuffix(r, "/api/estates/")
	parts := strings.Split(suffix, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("estate id missing"))
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid estate id %q", parts[0]))
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "summary":
			h.estateSummary(w, r, id)
		case "offline":
			h.estateOffline(w, r, id)
		default:
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown estate path"))
		}
		return
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown estate path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAuthenticatedUser(w, r); !ok {
			return
		}
		estate, err := h.Store.GetEstate(r.Context(), id)
		if err != nil {
			writeError(w, storageErrorStatus(err), fmt.Errorf("estate %d not found", id))
			return
		}
		writeJSON(w, http.StatusOK, newEstateResponse(estate))
	case http.MethodPut:
		if _, ok := h.requireRole(w, r, roleAdmin, roleOperator); !ok {
			return
		}
		var req estateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		update := storage.EstateUpdate{
			Name:        &req.Name,
			Address:     &req.Address,
			EstateType:  &req.EstateType,
			Description: &req.Description,
			AreaSqm:     &req.AreaSqm,
			NumUnits:    &req.NumUnits,
			Active:      req.Active,
		}
		estate, err := h.Store.UpdateEstate(r.Context(), id, update)
		if err != nil {
			writeError(w, storageErrorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, newEstateResponse(estate))
	case http.MethodDelete:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		if err := h.Store.DeleteEstate(r.Context(), id); err != nil {
			writeError(w, storageErrorStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) estateSummary(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	totals, err := h.Store.EstateTotals(r.Context(), id)
	if err != nil {
		writeError(w, storageErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *Handler) estateOffline(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	plants, err := h.Store.OfflinePlants(r.Context(), id)
	if err != nil {
		writeError(w, storageErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, plants)
}
