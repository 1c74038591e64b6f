package email_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/willemschots/notekeeper/internal/email"
)

func Test_LogSender_Send(t *testing.T) {
	t.Run("ok, email is logged", func(t *testing.T) {
		buf := &bytes.Buffer{}
		sender := email.NewLogSender(slog.New(slog.NewJSONHandler(buf, nil)))

		err := sender.Send(context.Background(), "notekeeper@example.com", "alice@example.com", "Hello", "Hi Alice, see http://localhost/activate/1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var got map[string]any
		err = json.Unmarshal(buf.Bytes(), &got)
		if err != nil {
			t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
		}

		want := map[string]string{
			"msg":       "send email",
			"level":     "INFO",
			"sender":    "log",
			"from":      "notekeeper@example.com",
			"recipient": "alice@example.com",
			"subject":   "Hello",
			"body":      "Hi Alice, see http://localhost/activate/1",
		}

		for k, v := range want {
			if got[k] != v {
				t.Errorf("%s: got %v, want %q", k, got[k], v)
			}
		}
	})
}
