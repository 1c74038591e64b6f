package web_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/willemschots/notekeeper/assets"
	"github.com/willemschots/notekeeper/internal/auth"
	"github.com/willemschots/notekeeper/internal/auth/memory"
	"github.com/willemschots/notekeeper/internal/email"
	"github.com/willemschots/notekeeper/internal/email/view"
	"github.com/willemschots/notekeeper/internal/krypto"
	"github.com/willemschots/notekeeper/internal/web"
	"github.com/willemschots/notekeeper/internal/web/sessions"
)

const publicBaseURL = "https://notekeeper.example.com"

func Test_Server_Status(t *testing.T) {
	st := newServerTest(t)
	c := st.newClient(t)

	res := c.get(t, "/")
	assertStatus(t, res, http.StatusOK)

	if res.header.Get(web.CSRFTokenHeader) == "" {
		t.Errorf("expected csrf token in %s header", web.CSRFTokenHeader)
	}

	if res.body["status"] != "ok" {
		t.Errorf("got status %v, want ok", res.body["status"])
	}
}

func Test_Server_CSRF(t *testing.T) {
	t.Run("fail, missing token", func(t *testing.T) {
		st := newServerTest(t)
		c := st.newClient(t)

		res := c.postWithToken(t, "/register", registerForm("alice@example.com"), "")
		assertStatus(t, res, http.StatusForbidden)
	})

	t.Run("fail, token of other client", func(t *testing.T) {
		st := newServerTest(t)
		c1 := st.newClient(t)
		c2 := st.newClient(t)

		token := c2.csrfToken(t)
		_ = c1.csrfToken(t)

		res := c1.postWithToken(t, "/register", registerForm("alice@example.com"), token)
		assertStatus(t, res, http.StatusForbidden)
	})
}

func Test_Server_AccountLifecycle(t *testing.T) {
	st := newServerTest(t)
	c := st.newClient(t)

	t.Run("ok, register", func(t *testing.T) {
		res := c.post(t, "/register", registerForm("alice@example.com"))
		assertStatus(t, res, http.StatusCreated)
	})

	t.Run("fail, register duplicate email", func(t *testing.T) {
		res := c.post(t, "/register", registerForm("alice@example.com"))
		assertStatus(t, res, http.StatusConflict)
	})

	t.Run("fail, register invalid input", func(t *testing.T) {
		res := c.post(t, "/register", url.Values{
			"email":    {"not-an-email"},
			"password": {"short"},
		})
		assertStatus(t, res, http.StatusBadRequest)

		fields, _ := res.body["fields"].(map[string]any)
		for _, key := range []string{"email", "password"} {
			if _, ok := fields[key]; !ok {
				t.Errorf("expected error for field %s, got %v", key, res.body)
			}
		}
	})

	activationPath := st.waitForLink(t, "alice@example.com", "/activate/")

	t.Run("fail, unknown activation token", func(t *testing.T) {
		res := c.get(t, "/activate/"+must(krypto.GenerateToken()).String())
		assertStatus(t, res, http.StatusNotFound)
	})

	t.Run("fail, malformed activation token", func(t *testing.T) {
		res := c.get(t, "/activate/abc")
		assertStatus(t, res, http.StatusNotFound)
	})

	t.Run("ok, activate", func(t *testing.T) {
		res := c.get(t, activationPath)
		assertStatus(t, res, http.StatusOK)
	})

	t.Run("fail, activate twice", func(t *testing.T) {
		res := c.get(t, activationPath)
		assertStatus(t, res, http.StatusNotFound)
	})

	t.Run("fail, account when logged out", func(t *testing.T) {
		res := c.get(t, "/account")
		assertStatus(t, res, http.StatusUnauthorized)
	})

	t.Run("fail, login with wrong password", func(t *testing.T) {
		res := c.post(t, "/login", url.Values{
			"email":    {"alice@example.com"},
			"password": {"notThePassword1"},
		})
		assertStatus(t, res, http.StatusUnauthorized)
	})

	t.Run("ok, login", func(t *testing.T) {
		res := c.post(t, "/login", url.Values{
			"email":    {"alice@example.com"},
			"password": {"reallyStrongPassword1"},
		})
		assertStatus(t, res, http.StatusOK)

		if res.body["email"] != "alice@example.com" || res.body["status"] != string(auth.StatusActive) {
			t.Errorf("unexpected account %v", res.body)
		}

		if _, ok := res.body["passwordHash"]; ok {
			t.Errorf("password hash should not be exposed")
		}
	})

	t.Run("ok, account", func(t *testing.T) {
		res := c.get(t, "/account")
		assertStatus(t, res, http.StatusOK)

		if res.body["email"] != "alice@example.com" || res.body["name"] != "Alice" {
			t.Errorf("unexpected account %v", res.body)
		}
	})

	t.Run("fail, register when logged in", func(t *testing.T) {
		res := c.post(t, "/register", registerForm("bob@example.com"))
		assertStatus(t, res, http.StatusForbidden)
	})

	t.Run("ok, logout", func(t *testing.T) {
		res := c.post(t, "/logout", url.Values{})
		assertStatus(t, res, http.StatusOK)

		res = c.get(t, "/account")
		assertStatus(t, res, http.StatusUnauthorized)
	})

	t.Run("fail, logout when logged out", func(t *testing.T) {
		res := c.post(t, "/logout", url.Values{})
		assertStatus(t, res, http.StatusUnauthorized)
	})
}

func Test_Server_PasswordReset(t *testing.T) {
	st := newServerTest(t)
	c := st.newClient(t)

	res := c.post(t, "/register", registerForm("alice@example.com"))
	assertStatus(t, res, http.StatusCreated)

	t.Run("fail, unknown email", func(t *testing.T) {
		res := c.post(t, "/forgot-password", url.Values{"email": {"bob@example.com"}})
		assertStatus(t, res, http.StatusNotFound)
	})

	t.Run("fail, invalid email", func(t *testing.T) {
		res := c.post(t, "/forgot-password", url.Values{"email": {"bob"}})
		assertStatus(t, res, http.StatusBadRequest)
	})

	t.Run("ok, forgot and reset password", func(t *testing.T) {
		res := c.post(t, "/forgot-password", url.Values{"email": {"alice@example.com"}})
		assertStatus(t, res, http.StatusOK)

		resetPath := st.waitForLink(t, "alice@example.com", "/reset-password/")

		res = c.post(t, resetPath, url.Values{"password": {"short"}})
		assertStatus(t, res, http.StatusBadRequest)

		res = c.post(t, resetPath, url.Values{"password": {"newPassword123"}})
		assertStatus(t, res, http.StatusOK)

		res = c.post(t, resetPath, url.Values{"password": {"anotherPassword456"}})
		assertStatus(t, res, http.StatusNotFound)

		res = c.post(t, "/login", url.Values{
			"email":    {"alice@example.com"},
			"password": {"newPassword123"},
		})
		assertStatus(t, res, http.StatusOK)
	})
}

func Test_Server_RequireActivation(t *testing.T) {
	st := newServerTest(t, func(cfg *auth.ServiceConfig) {
		cfg.RequireActivation = true
	})
	c := st.newClient(t)

	res := c.post(t, "/register", registerForm("alice@example.com"))
	assertStatus(t, res, http.StatusCreated)

	login := url.Values{
		"email":    {"alice@example.com"},
		"password": {"reallyStrongPassword1"},
	}

	res = c.post(t, "/login", login)
	assertStatus(t, res, http.StatusForbidden)

	res = c.get(t, st.waitForLink(t, "alice@example.com", "/activate/"))
	assertStatus(t, res, http.StatusOK)

	res = c.post(t, "/login", login)
	assertStatus(t, res, http.StatusOK)
}

type serverTest struct {
	srv    *httptest.Server
	sender *email.MemorySender
}

func newServerTest(t *testing.T, modFuncs ...func(*auth.ServiceConfig)) *serverTest {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sender := email.NewMemorySender()
	emailSvc := email.NewService(view.NewFSRenderer(assets.EmailFS), sender, email.ServiceConfig{
		From: "notekeeper@example.com",
	})

	cfg := auth.ServiceConfig{
		WorkerTimeout: time.Second,
		TokenExpiry:   time.Hour,
	}
	for _, mod := range modFuncs {
		mod(&cfg)
	}

	authSvc, err := auth.NewService(memory.New(), emailSvc, func(err error) {
		t.Errorf("unexpected auth error: %v", err)
	}, cfg)
	if err != nil {
		t.Fatalf("failed to create auth service: %v", err)
	}

	sessionStore := sessions.NewCookieStore([]krypto.Key{
		must(krypto.ParseKey("568554094ec040ab8a6b3e6d7cc138b0dc855f39ba1aeb2ffc903f7260b3a452")),
		must(krypto.ParseKey("d503685b5e0848dcd1026711a5d92e8a087dfaffa489fb563e0de73db2f2476c")),
	}, false)

	server := web.NewServer(&web.ServerDeps{
		Logger:       logger,
		AuthService:  authSvc,
		SessionStore: sessionStore,
	}, web.ServerConfig{
		BaseURL:      must(url.Parse(publicBaseURL)),
		CSRFKey:      must(krypto.ParseKey("dfab77e26917c6e37a173690443a0016808ef7b24e32424d45cd83454198a6ec")),
		SecureCookie: false,
	})

	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		srv.Close()
		authSvc.Wait()
	})

	return &serverTest{
		srv:    srv,
		sender: sender,
	}
}

var linkRe = regexp.MustCompile(regexp.QuoteMeta(publicBaseURL) + `(/\S+)`)

// waitForLink waits for the most recent email to addr that contains a link
// with the prefix, and returns the path of that link.
func (st *serverTest) waitForLink(t *testing.T, addr email.Address, prefix string) string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := st.sender.Messages()
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Recipient != addr {
				continue
			}

			match := linkRe.FindStringSubmatch(msgs[i].Body)
			if match != nil && strings.HasPrefix(match[1], prefix) {
				return match[1]
			}
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("no email with %s link to %s", prefix, addr)
	return ""
}

type client struct {
	st   *serverTest
	http *http.Client
}

func (st *serverTest) newClient(t *testing.T) *client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}

	return &client{
		st: st,
		http: &http.Client{
			Jar:     jar,
			Timeout: 5 * time.Second,
		},
	}
}

type response struct {
	status int
	header http.Header
	body   map[string]any
}

func (c *client) get(t *testing.T, path string) response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, c.st.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	return c.do(t, req)
}

// csrfToken obtains a fresh CSRF token for the client.
func (c *client) csrfToken(t *testing.T) string {
	t.Helper()

	res := c.get(t, "/")
	assertStatus(t, res, http.StatusOK)

	return res.header.Get(web.CSRFTokenHeader)
}

// post submits the form with a fresh CSRF token.
func (c *client) post(t *testing.T, path string, form url.Values) response {
	t.Helper()

	return c.postWithToken(t, path, form, c.csrfToken(t))
}

func (c *client) postWithToken(t *testing.T, path string, form url.Values, token string) response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, c.st.srv.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set(web.CSRFTokenHeader, token)
	}

	return c.do(t, req)
}

func (c *client) do(t *testing.T, req *http.Request) response {
	t.Helper()

	res, err := c.http.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	defer res.Body.Close()

	out := response{
		status: res.StatusCode,
		header: res.Header,
	}

	err = json.NewDecoder(res.Body).Decode(&out.body)
	if err != nil {
		t.Fatalf("failed to decode response body of %s %s (status %d): %v", req.Method, req.URL.Path, res.StatusCode, err)
	}

	return out
}

func assertStatus(t *testing.T, res response, want int) {
	t.Helper()

	if res.status != want {
		t.Fatalf("got status %d, want %d. body: %v", res.status, want, res.body)
	}
}

func registerForm(addr string) url.Values {
	return url.Values{
		"email":    {addr},
		"password": {"reallyStrongPassword1"},
		"name":     {"Alice"},
	}
}

func must[T any](t T, err error) T {
	if err != nil {
		panic(err)
	}
	return t
}
