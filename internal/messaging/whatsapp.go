package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"solarsync/internal/observability/metrics"
)

// DefaultGraphBaseURL is the Meta Graph API base used by the WhatsApp
// Business Cloud API.
const DefaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// WhatsAppReceipt is the delivery acknowledgement from the Cloud API.
type WhatsAppReceipt struct {
	MessagingProduct string `json:"messaging_product"`
	MessageID        string
	To               string
}

type whatsAppResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// WhatsAppConfig configures the WhatsApp Business Cloud sender.
type WhatsAppConfig struct {
	PhoneID     string
	AccessToken string
	BaseURL     string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// WhatsAppSender sends plain-text messages through the WhatsApp Business
// Cloud API.
type WhatsAppSender struct {
	phoneID string
	token   string
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewWhatsAppSender validates the configuration and returns a sender.
func NewWhatsAppSender(cfg WhatsAppConfig) (*WhatsAppSender, error) {
	if strings.TrimSpace(cfg.PhoneID) == "" || strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("whatsapp phone id and access token are required")
	}
	sender := &WhatsAppSender{
		phoneID: strings.TrimSpace(cfg.PhoneID),
		token:   strings.TrimSpace(cfg.AccessToken),
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  cfg.HTTPClient,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if sender.baseURL == "" {
		sender.baseURL = DefaultGraphBaseURL
	}
	if sender.client == nil {
		sender.client = &http.Client{}
	}
	if sender.timeout <= 0 {
		sender.timeout = DefaultMessageTimeout
	}
	if sender.logger == nil {
		sender.logger = slog.Default()
	}
	return sender, nil
}

// SendText delivers one text message. The phone accepts local SA formats.
func (s *WhatsAppSender) SendText(ctx context.Context, phone, message string) (WhatsAppReceipt, error) {
	msisdn, err := FormatMSISDN(phone)
	if err != nil {
		return WhatsAppReceipt{}, err
	}
	if strings.TrimSpace(message) == "" {
		return WhatsAppReceipt{}, fmt.Errorf("message body is required")
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                msisdn,
		"type":              "text",
		"text":              map[string]string{"body": message},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return WhatsAppReceipt{}, fmt.Errorf("encode whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneID)
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return WhatsAppReceipt{}, fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		s.observe(false)
		return WhatsAppReceipt{}, fmt.Errorf("send whatsapp message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		s.observe(false)
		return WhatsAppReceipt{}, fmt.Errorf("read whatsapp response: %w", err)
	}

	var decoded whatsAppResponse
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			s.observe(false)
			return WhatsAppReceipt{}, fmt.Errorf("decode whatsapp response: %w", err)
		}
		receipt := WhatsAppReceipt{MessagingProduct: decoded.MessagingProduct, To: msisdn}
		if len(decoded.Messages) > 0 {
			receipt.MessageID = decoded.Messages[0].ID
		}
		s.observe(true)
		s.logger.Info("whatsapp message accepted", "to", msisdn, "message_id", receipt.MessageID)
		return receipt, nil
	}

	s.observe(false)
	detail := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error.Message != "" {
		detail = decoded.Error.Message
	}
	return WhatsAppReceipt{}, fmt.Errorf("whatsapp api error (%d): %s", resp.StatusCode, detail)
}

func (s *WhatsAppSender) observe(success bool) {
	if s.metrics != nil {
		s.metrics.ObserveMessage("whatsapp", success)
	}
}
