package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"solarsync/internal/messaging"
)

type sendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// SendSMS delivers a text message through the SMS gateway.
func (h *Handler) SendSMS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireRole(w, r, roleAdmin, roleOperator); !ok {
		return
	}
	if h.SMS == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("sms gateway not configured"))
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}

	receipt, err := h.SMS.Send(r.Context(), req.Phone, req.Message)
	if err != nil {
		if errors.Is(err, messaging.ErrUnsupportedPhone) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// SendWhatsApp delivers a text message through the WhatsApp Cloud API.
func (h *Handler) SendWhatsApp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireRole(w, r, roleAdmin, roleOperator); !ok {
		return
	}
	if h.WhatsApp == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("whatsapp gateway not configured"))
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}

	receipt, err := h.WhatsApp.SendText(r.Context(), req.Phone, req.Message)
	if err != nil {
		if errors.Is(err, messaging.ErrUnsupportedPhone) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type vcardRequest struct {
	FullName  string `json:"fullName"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Note      string `json:"note"`
	PhoneType string `json:"phoneType"`
}

// ContactVCard renders a contact as vCard 3.0 text. The phone number is
// normalised before encoding so mangled spreadsheet exports still produce a
// dialable contact.
func (h *Handler) ContactVCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}

	var req vcardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.FullName) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("fullName is required"))
		return
	}
	card := messaging.VCard{
		FullName:  req.FullName,
		Tel:       messaging.CleanMSISDN(req.Phone),
		Email:     req.Email,
		Note:      req.Note,
		PhoneType: req.PhoneType,
	}
	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(card.Encode()))
}
