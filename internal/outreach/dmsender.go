package outreach

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadpulse_backend/internal/governor"
	"leadpulse_backend/platform/config"
)

// DMGatewaySender delivers platform direct messages through an external
// gateway service that holds the per-platform API credentials.
type DMGatewaySender struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type dmGatewayRequest struct {
	ActionID string `json:"actionId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type dmGatewayResponse struct {
	MessageID string `json:"messageId"`
}

// NewDMGatewaySender returns nil when no gateway URL is configured; the
// dispatcher then dead-letters dm actions instead of silently dropping them.
func NewDMGatewaySender(cfg config.DMConfig) *DMGatewaySender {
	if cfg.GetDMGatewayURL() == "" {
		return nil
	}

	return &DMGatewaySender{
		baseURL: strings.TrimRight(cfg.GetDMGatewayURL(), "/"),
		apiKey:  cfg.GetDMGatewayKey(),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *DMGatewaySender) Send(ctx context.Context, action governor.Action, recipient string) (string, error) {
	if recipient == "" {
		return "", Permanent(errors.New("lead has no resolvable profile"))
	}

	body, err := json.Marshal(dmGatewayRequest{
		ActionID: action.ID.String(),
		Username: recipient,
		Message:  action.Message,
	})
	if err != nil {
		return "", Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/send/dm", bytes.NewBuffer(body))
	if err != nil {
		return "", Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("dm gateway request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)

	// 4xx means the gateway rejected the message itself; retrying the same
	// payload cannot succeed.
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
		return "", Permanent(fmt.Errorf("dm gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("dm gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed dmGatewayResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", nil
	}
	return parsed.MessageID, nil
}
