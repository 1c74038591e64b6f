package email

import (
	"context"
	"sync"
)

// Message is an email as it was handed to a Sender.
type Message struct {
	From      Address
	Recipient Address
	Subject   string
	Body      string
}

// MemorySender keeps sent emails in memory. It's safe for concurrent use.
type MemorySender struct {
	mu     sync.Mutex
	emails []Message
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Send(_ context.Context, from, recipient Address, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emails = append(s.emails, Message{
		From:      from,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	})
	return nil
}

// Messages returns a copy of all sent emails in the order they were sent.
func (s *MemorySender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.emails))
	copy(out, s.emails)
	return out
}
