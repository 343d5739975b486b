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

// DefaultClickatellURL is the Clickatell Platform single-message endpoint.
const DefaultClickatellURL = "https://platform.clickatell.com/v1/message"

// DefaultMessageTimeout bounds a single gateway request.
const DefaultMessageTimeout = 10 * time.Second

// SMSReceipt is one accepted message from a Clickatell response.
type SMSReceipt struct {
	APIMessageID string `json:"apiMessageId"`
	To           string `json:"to"`
	Status       string `json:"status"`
}

type clickatellResponse struct {
	Messages []SMSReceipt `json:"messages"`
	Error    string       `json:"error"`
	Code     *int         `json:"errorCode"`
}

// SMSConfig configures the Clickatell SMS sender.
type SMSConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

// SMSSender sends single SMS messages through the Clickatell Platform API.
type SMSSender struct {
	apiKey  string
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewSMSSender validates the configuration and returns a sender.
func NewSMSSender(cfg SMSConfig) (*SMSSender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("clickatell api key is required")
	}
	sender := &SMSSender{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  cfg.HTTPClient,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if sender.baseURL == "" {
		sender.baseURL = DefaultClickatellURL
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

// Send delivers one SMS. The phone accepts local SA formats.
func (s *SMSSender) Send(ctx context.Context, phone, message string) (SMSReceipt, error) {
	msisdn, err := FormatMSISDN(phone)
	if err != nil {
		return SMSReceipt{}, err
	}
	if strings.TrimSpace(message) == "" {
		return SMSReceipt{}, fmt.Errorf("message body is required")
	}

	payload := map[string]any{
		"messages": []map[string]any{
			{"channel": "sms", "to": msisdn, "content": message},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SMSReceipt{}, fmt.Errorf("encode sms payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return SMSReceipt{}, fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		s.observe(false)
		return SMSReceipt{}, fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		s.observe(false)
		return SMSReceipt{}, fmt.Errorf("read sms response: %w", err)
	}

	var decoded clickatellResponse
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			s.observe(false)
			return SMSReceipt{}, fmt.Errorf("decode sms response: %w", err)
		}
		if len(decoded.Messages) == 0 {
			s.observe(false)
			return SMSReceipt{}, fmt.Errorf("sms response contained no messages")
		}
		s.observe(true)
		s.logger.Info("sms accepted", "to", msisdn, "message_id", decoded.Messages[0].APIMessageID)
		return decoded.Messages[0], nil
	}

	s.observe(false)
	detail := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error != "" {
		if decoded.Code != nil {
			detail = fmt.Sprintf("%s (code=%d)", decoded.Error, *decoded.Code)
		} else {
			detail = decoded.Error
		}
	}
	if detail == "" {
		detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return SMSReceipt{}, fmt.Errorf("clickatell error: %s", detail)
}

func (s *SMSSender) observe(success bool) {
	if s.metrics != nil {
		s.metrics.ObserveMessage("sms", success)
	}
}
