// Package sms sends text messages through a carrier.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Result is what the carrier reports for an accepted message.
type Result struct {
	ProviderMessageID string
}

// Sender delivers one message. Implementations must honour ctx.
type Sender interface {
	Send(ctx context.Context, phone, text string) (Result, error)
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	Logger *log.Logger
}

func (s LogSender) Send(ctx context.Context, phone, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	id := "log-" + uuid.NewString()
	logf := log.Printf
	if s.Logger != nil {
		logf = s.Logger.Printf
	}
	logf("sms dry-run id=%s to=%s chars=%d text=%q", id, phone, len([]rune(text)), text)
	return Result{ProviderMessageID: id}, nil
}

// HTTPSender posts to a Twilio-compatible messages endpoint. "{sid}" in
// Endpoint is replaced with AccountSID.
type HTTPSender struct {
	Endpoint   string
	AccountSID string
	AuthToken  string
	From       string
	Client     *http.Client
}

type carrierResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *HTTPSender) Send(ctx context.Context, phone, text string) (Result, error) {
	endpoint := strings.ReplaceAll(s.Endpoint, "{sid}", url.PathEscape(s.AccountSID))
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", s.From)
	form.Set("Body", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(s.AccountSID, s.AuthToken)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Result{}, fmt.Errorf("read sms response: %w", err)
	}
	var cr carrierResponse
	_ = json.Unmarshal(body, &cr)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := cr.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return Result{}, fmt.Errorf("sms rejected: status %d code %d: %s", resp.StatusCode, cr.Code, msg)
	}
	if cr.SID == "" {
		return Result{}, fmt.Errorf("sms accepted without message id")
	}
	return Result{ProviderMessageID: cr.SID}, nil
}
