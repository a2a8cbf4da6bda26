package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

type smsPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// HTTPSender posts messages to a provider-agnostic HTTP endpoint, the shape
// most SMS aggregators accept in their simplest form.
type HTTPSender struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPSender(url string, token string) *HTTPSender {
	return &HTTPSender{
		url:    strings.TrimSpace(url),
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSender) ProviderID() string { return "sms-http" }

func (s *HTTPSender) Send(ctx context.Context, to string, body string) error {
	if s.url == "" {
		return errors.New("sms endpoint not configured")
	}

	raw, err := json.Marshal(smsPayload{To: to, Message: body})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// NoopSender is the default when no provider is configured; sends succeed
// without leaving the process.
type NoopSender struct{}

func NewNoopSender() *NoopSender { return &NoopSender{} }

func (s *NoopSender) ProviderID() string { return "sms-noop" }

func (s *NoopSender) Send(_ context.Context, _ string, _ string) error { return nil }
