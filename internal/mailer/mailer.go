package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

var ErrSendFailed = errors.New("failed to send email")

// Mailer is the outbound email collaborator. Implementations must treat Send
// as best-effort delivery to the provider; callers decide whether a failure
// aborts their operation.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// APIMailer delivers mail through a JSON HTTP provider API.
type APIMailer struct {
	client *http.Client
	apiURL string
	apiKey string
	from   string
	logger *slog.Logger
}

func NewAPIMailer(apiURL, apiKey, from string, logger *slog.Logger) *APIMailer {
	return &APIMailer{
		client: &http.Client{Timeout: 10 * time.Second},
		apiURL: apiURL,
		apiKey: apiKey,
		from:   from,
		logger: logger,
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (m *APIMailer) Send(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(sendRequest{
		From:    m.from,
		To:      to,
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Error("mail provider request failed", "to", to, "error", err)
		return ErrSendFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Error("mail provider rejected message", "to", to, "status", resp.StatusCode)
		return ErrSendFailed
	}

	m.logger.Debug("mail sent", "to", to, "subject", subject)
	return nil
}

// LogMailer logs instead of sending. Used in development when no mail
// provider is configured.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, html string) error {
	m.logger.Info("mail (not sent)", "to", to, "subject", subject)
	return nil
}

// LinkBuilder builds the links embedded in outbound mail.
type LinkBuilder struct {
	baseURL string
	locale  string
}

func NewLinkBuilder(baseURL, locale string) *LinkBuilder {
	if locale == "" {
		locale = "en"
	}
	return &LinkBuilder{baseURL: baseURL, locale: locale}
}

// AcceptLink is the invite link for recipients that already have an account:
// /{locale}/invite/{token}?email={encoded_email}
func (b *LinkBuilder) AcceptLink(token, email string) string {
	return fmt.Sprintf("%s/%s/invite/%s?email=%s", b.baseURL, b.locale, token, url.QueryEscape(email))
}

// SignupLink is the invite link for recipients without an account:
// /{locale}/signup?invite={token}
func (b *LinkBuilder) SignupLink(token string) string {
	return fmt.Sprintf("%s/%s/signup?invite=%s", b.baseURL, b.locale, token)
}
