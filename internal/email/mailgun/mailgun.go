package mailgun

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/willemschots/notekeeper/internal/email"
	"github.com/willemschots/notekeeper/internal/krypto"
)

// Settings contains the settings for the Mailgun API.
type Settings struct {
	APIHost  string
	Domain   string
	Username string
	Password krypto.Secret
}

// Sender is an email sender that sends emails using the Mailgun API.
type Sender struct {
	client   *http.Client
	settings Settings
}

// NewSender creates a new sender.
func NewSender(client *http.Client, s Settings) *Sender {
	return &Sender{
		client:   client,
		settings: s,
	}
}

// Send sends an email using the Mailgun API.
//
// The Go mailgun package is not used, it brings in a lot of dependencies for
// what is a single multipart POST request.
func (s *Sender) Send(ctx context.Context, from, recipient email.Address, subject, body string) error {
	fields := []struct {
		name  string
		value string
	}{
		{"from", string(from)},
		{"to", string(recipient)},
		{"subject", subject},
		{"text", body},
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		err := w.WriteField(f.name, f.value)
		if err != nil {
			return err
		}
	}

	err := w.Close()
	if err != nil {
		return err
	}

	reqURL := url.URL{
		Scheme: "https",
		Host:   s.settings.APIHost,
		Path:   fmt.Sprintf("/v3/%s/messages", s.settings.Domain),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", w.FormDataContentType())
	req.SetBasicAuth(s.settings.Username, string(s.settings.Password.SecretValue()))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	defer resp.Body.Close()

	resBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request did not succeed, status code %d: %s", resp.StatusCode, string(resBody))
	}

	return nil
}
