// Package httpmailer implements domain.Mailer against a generic HTTP email
// API (e.g. Postmark, SendGrid, Resend — any provider accepting a JSON
// to/subject/body payload with a bearer key), used for terminal-status
// notifications (spec.md §5 "Notification fan-out").
package httpmailer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// Mailer posts a notification payload to a configured HTTP email API.
type Mailer struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New builds a Mailer posting to baseURL with a 10s timeout.
func New(baseURL, apiKey string) *Mailer {
	return &Mailer{BaseURL: baseURL, APIKey: apiKey, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

type notificationPayload struct {
	UserID string `json:"user_id"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// SendJobNotification posts the job's terminal status to the mail API.
func (m *Mailer) SendJobNotification(ctx domain.Context, userID string, j domain.Job) error {
	body, err := json.Marshal(notificationPayload{UserID: userID, JobID: j.ID, Status: string(j.Status)})
	if err != nil {
		return fmt.Errorf("op=mailer.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=mailer.build_request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.APIKey)
	}
	resp, err := m.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("op=mailer.send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=mailer.send: mail api returned status %d", resp.StatusCode)
	}
	return nil
}
