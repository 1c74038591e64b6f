package postmark_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/willemschots/notekeeper/internal/email/postmark"
	"github.com/willemschots/notekeeper/internal/krypto"
)

func Test_Sender_Send(t *testing.T) {
	t.Run("ok, sends email", func(t *testing.T) {
		var got map[string]string

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("got method %s, want %s", r.Method, http.MethodPost)
			}

			if token := r.Header.Get("X-Postmark-Server-Token"); token != "server-token" {
				t.Errorf("got server token %q, want %q", token, "server-token")
			}

			err := json.NewDecoder(r.Body).Decode(&got)
			if err != nil {
				t.Errorf("failed to decode request body: %v", err)
			}

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ErrorCode":0,"Message":"OK","MessageID":"b7bc2f4a"}`))
		}))
		defer srv.Close()

		sender := postmark.NewSender(srv.Client(), settingsForTest(t, srv.URL))

		err := sender.Send(context.Background(), "notekeeper@example.com", "alice@example.com", "Hello", "Hi Alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := map[string]string{
			"From":          "notekeeper@example.com",
			"To":            "alice@example.com",
			"Subject":       "Hello",
			"TextBody":      "Hi Alice",
			"MessageStream": "outbound",
		}

		for k, v := range want {
			if got[k] != v {
				t.Errorf("field %s: got %q, want %q", k, got[k], v)
			}
		}
	})

	failTests := map[string]struct {
		status int
		body   string
	}{
		"fail, error code in response": {
			status: http.StatusUnprocessableEntity,
			body:   `{"ErrorCode":300,"Message":"Invalid email request"}`,
		},
		"fail, unauthorized without json": {
			status: http.StatusUnauthorized,
			body:   `unauthorized`,
		},
		"fail, invalid json": {
			status: http.StatusOK,
			body:   `{`,
		},
	}

	for name, tc := range failTests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			sender := postmark.NewSender(srv.Client(), settingsForTest(t, srv.URL))

			err := sender.Send(context.Background(), "notekeeper@example.com", "alice@example.com", "Hello", "Hi Alice")
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}

	t.Run("fail, context canceled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("did not expect request to reach the server")
		}))
		defer srv.Close()

		sender := postmark.NewSender(srv.Client(), settingsForTest(t, srv.URL))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := sender.Send(ctx, "notekeeper@example.com", "alice@example.com", "Hello", "Hi Alice")
		if err == nil {
			t.Fatalf("expected error, got nil")
		}
	})
}

func settingsForTest(t *testing.T, rawURL string) postmark.Settings {
	t.Helper()

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse url: %v", err)
	}

	return postmark.Settings{
		APIURL:        u,
		ServerToken:   krypto.NewSecret("server-token"),
		MessageStream: "outbound",
	}
}
