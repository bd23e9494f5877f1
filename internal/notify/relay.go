package notify

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

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
)

// ErrRelayUnavailable is returned when the relay is not configured.
var ErrRelayUnavailable = errors.New("mail relay not configured")

const (
	templateWaitlistRegistered = "waitlist_registered"
	templateWaitlistClaim      = "waitlist_claim"
)

// RelayClient posts templated messages to an HTTP mail relay.
type RelayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewRelayClient(baseURL, apiKey string, httpClient *http.Client) *RelayClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &RelayClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}
}

type relayMessage struct {
	Template string         `json:"template"`
	To       string         `json:"to"`
	Data     map[string]any `json:"data"`
}

type relayError struct {
	Error string `json:"error"`
}

func (c *RelayClient) SendWaitlistRegistered(ctx context.Context, entry *model.WaitlistEntry) error {
	return c.send(ctx, relayMessage{
		Template: templateWaitlistRegistered,
		To:       entry.Email,
		Data: map[string]any{
			"entry_id":     entry.ID,
			"company_name": entry.CompanyName,
			"position":     entry.Position,
		},
	})
}

func (c *RelayClient) SendWaitlistPromotionClaim(ctx context.Context, entry *model.WaitlistEntry, deadline time.Time) error {
	return c.send(ctx, relayMessage{
		Template: templateWaitlistClaim,
		To:       entry.Email,
		Data: map[string]any{
			"entry_id":     entry.ID,
			"company_name": entry.CompanyName,
			"deadline":     deadline.UTC().Format(time.RFC3339),
		},
	})
}

func (c *RelayClient) send(ctx context.Context, msg relayMessage) error {
	if c.baseURL == "" {
		return ErrRelayUnavailable
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	var payload relayError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
	if payload.Error != "" {
		return fmt.Errorf("relay responded %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("relay responded %d", resp.StatusCode)
}
