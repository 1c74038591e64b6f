package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

// TemplateElement is used by a renderer to identify the different parts of an email template.
type TemplateElement string

const (
	ElementSubject TemplateElement = "subject"
	ElementBody    TemplateElement = "body"
)

// Names of the templates used by the Service.
const (
	TemplateAccountActivation = "account-activation"
	TemplatePasswordReset     = "password-reset"
)

// Renderer is responsible for rendering email templates.
type Renderer interface {
	Render(w io.Writer, name string, element TemplateElement, data any) error
}

// Sender is responsible for actually sending an email.
type Sender interface {
	Send(ctx context.Context, sender, recipient Address, subject, body string) error
}

// ServiceConfig is the configuration for the Service.
type ServiceConfig struct {
	// From is the sender of all emails.
	From Address
}

// Service provides the main functionality for sending emails.
type Service struct {
	renderer Renderer
	sender   Sender
	cfg      ServiceConfig
}

func NewService(renderer Renderer, sender Sender, cfg ServiceConfig) *Service {
	return &Service{
		renderer: renderer,
		sender:   sender,
		cfg:      cfg,
	}
}

// SendMessage renders the subject and body of the named template with data
// and sends the result to recipient.
func (s *Service) SendMessage(ctx context.Context, name string, recipient Address, data any) error {
	var subject bytes.Buffer
	err := s.renderer.Render(&subject, name, ElementSubject, data)
	if err != nil {
		return fmt.Errorf("failed to render subject of %s: %w", name, err)
	}

	var body bytes.Buffer
	err = s.renderer.Render(&body, name, ElementBody, data)
	if err != nil {
		return fmt.Errorf("failed to render body of %s: %w", name, err)
	}

	// Subjects are single line, templates tend to add whitespace.
	subj := strings.Join(strings.Fields(subject.String()), " ")

	return s.sender.Send(ctx, s.cfg.From, recipient, subj, strings.TrimSpace(body.String()))
}

type linkData struct {
	Link string
}

// SendActivationLink sends the link to activate a new account.
func (s *Service) SendActivationLink(ctx context.Context, to Address, link string) error {
	return s.SendMessage(ctx, TemplateAccountActivation, to, linkData{Link: link})
}

// SendResetLink sends the link to reset the password of an account.
func (s *Service) SendResetLink(ctx context.Context, to Address, link string) error {
	return s.SendMessage(ctx, TemplatePasswordReset, to, linkData{Link: link})
}
