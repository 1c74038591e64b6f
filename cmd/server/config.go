package main

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/willemschots/notekeeper/internal/auth"
	"github.com/willemschots/notekeeper/internal/email"
	"github.com/willemschots/notekeeper/internal/email/mailgun"
	"github.com/willemschots/notekeeper/internal/email/postmark"
	"github.com/willemschots/notekeeper/internal/krypto"
	"github.com/willemschots/notekeeper/internal/web"
)

const (
	emailDriverLog      = "log"
	emailDriverPostmark = "postmark"
	emailDriverMailgun  = "mailgun"
)

// httpConfig is the configuration for the HTTP server.
type httpConfig struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	cookieKeys      []krypto.Key
	server          web.ServerConfig
}

// dbConfig is the configuration for the database.
type dbConfig struct {
	file           string
	migrate        bool
	blindIndexSalt krypto.Key
	encryptionKeys []krypto.Key
}

// emailConfig is the configuration for sending emails.
type emailConfig struct {
	driver   string
	service  email.ServiceConfig
	postmark postmark.Settings
	mailgun  mailgun.Settings
}

// config is the configuration for the server command.
type config struct {
	http  httpConfig
	db    dbConfig
	auth  auth.ServiceConfig
	email emailConfig
}

// defaultConfig returns a config with sane default values.
// Keys and the sender address have no sane default, they are required.
func defaultConfig() config {
	return config{
		http: httpConfig{
			addr:            ":8888",
			readTimeout:     time.Second * 5,
			writeTimeout:    time.Second * 10,
			idleTimeout:     time.Second * 120,
			shutdownTimeout: time.Second * 15,
			server: web.ServerConfig{
				BaseURL:      must(url.Parse("http://localhost:8888")),
				SecureCookie: true,
			},
		},
		db: dbConfig{
			file:    "notekeeper.db",
			migrate: true,
		},
		auth: auth.ServiceConfig{
			WorkerTimeout:     time.Second * 10,
			TokenExpiry:       time.Hour * 24,
			RequireActivation: false,
		},
		email: emailConfig{
			driver: emailDriverLog,
			postmark: postmark.Settings{
				APIURL:        must(url.Parse("https://api.postmarkapp.com")),
				MessageStream: "outbound",
			},
			mailgun: mailgun.Settings{
				APIHost:  "api.mailgun.net",
				Username: "api",
			},
		},
	}
}

// requiredKeys are env variables that need to be set.
var requiredKeys = []string{
	"HTTP_COOKIE_KEYS",
	"HTTP_CSRF_KEY",
	"DB_BLIND_INDEX_SALT",
	"DB_ENCRYPTION_KEYS",
	"EMAIL_FROM",
}

// envMap maps environment variable names to fields in the config struct.
var envMap = map[string]func(v string, c *config) error{
	"BASE_URL": func(v string, c *config) error {
		return confAbsURL(v, &c.http.server.BaseURL)
	},
	"HTTP_ADDR": func(v string, c *config) error {
		c.http.addr = v
		return nil
	},
	"HTTP_READ_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.readTimeout, 0, math.MaxInt64)
	},
	"HTTP_WRITE_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.writeTimeout, 0, math.MaxInt64)
	},
	"HTTP_IDLE_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.idleTimeout, 0, math.MaxInt64)
	},
	"HTTP_SHUTDOWN_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.shutdownTimeout, 0, math.MaxInt64)
	},
	"HTTP_COOKIE_KEYS": func(v string, c *config) error {
		keys, err := krypto.ParseKeys(v)
		if err != nil {
			return err
		}

		// gorilla/securecookie expects pairs of hash and block keys.
		if len(keys)%2 != 0 {
			return fmt.Errorf("expected an even number of keys, got %d", len(keys))
		}

		c.http.cookieKeys = keys
		return nil
	},
	"HTTP_SECURE_COOKIE": func(v string, c *config) error {
		return confBool(v, &c.http.server.SecureCookie)
	},
	"HTTP_CSRF_KEY": func(v string, c *config) error {
		return confKey(v, &c.http.server.CSRFKey)
	},
	"DB_FILENAME": func(v string, c *config) error {
		if v == "" {
			return errors.New("filename can not be empty")
		}
		c.db.file = v
		return nil
	},
	"DB_MIGRATE": func(v string, c *config) error {
		return confBool(v, &c.db.migrate)
	},
	"DB_BLIND_INDEX_SALT": func(v string, c *config) error {
		return confKey(v, &c.db.blindIndexSalt)
	},
	"DB_ENCRYPTION_KEYS": func(v string, c *config) error {
		keys, err := krypto.ParseKeys(v)
		if err != nil {
			return err
		}
		c.db.encryptionKeys = keys
		return nil
	},
	"AUTH_WORKER_TIMEOUT": func(v string, c *config) error {
		// sending an email takes at least a network round trip.
		return confDuration(v, &c.auth.WorkerTimeout, time.Second, math.MaxInt64)
	},
	"AUTH_TOKEN_EXPIRY": func(v string, c *config) error {
		return confDuration(v, &c.auth.TokenExpiry, time.Minute, math.MaxInt64)
	},
	"AUTH_REQUIRE_ACTIVATION": func(v string, c *config) error {
		return confBool(v, &c.auth.RequireActivation)
	},
	"EMAIL_DRIVER": func(v string, c *config) error {
		switch v {
		case emailDriverLog, emailDriverPostmark, emailDriverMailgun:
			c.email.driver = v
			return nil
		default:
			return fmt.Errorf("unknown driver %q, want one of %s, %s or %s", v, emailDriverLog, emailDriverPostmark, emailDriverMailgun)
		}
	},
	"EMAIL_FROM": func(v string, c *config) error {
		addr, err := email.ParseAddress(v)
		if err != nil {
			return err
		}
		c.email.service.From = addr
		return nil
	},
	"POSTMARK_API_URL": func(v string, c *config) error {
		return confAbsURL(v, &c.email.postmark.APIURL)
	},
	"POSTMARK_SERVER_TOKEN": func(v string, c *config) error {
		c.email.postmark.ServerToken = krypto.NewSecret(v)
		return nil
	},
	"POSTMARK_MESSAGE_STREAM": func(v string, c *config) error {
		c.email.postmark.MessageStream = v
		return nil
	},
	"MAILGUN_API_HOST": func(v string, c *config) error {
		if v == "" {
			return errors.New("host can not be empty")
		}
		c.email.mailgun.APIHost = v
		return nil
	},
	"MAILGUN_DOMAIN": func(v string, c *config) error {
		c.email.mailgun.Domain = v
		return nil
	},
	"MAILGUN_USERNAME": func(v string, c *config) error {
		c.email.mailgun.Username = v
		return nil
	},
	"MAILGUN_PASSWORD": func(v string, c *config) error {
		c.email.mailgun.Password = krypto.NewSecret(v)
		return nil
	},
}

// configFromEnv returns a config with values from the environment. It falls
// back to default values for any missing environment variables.
//
// It does a best effort to validate provided values, so that mistakes are
// caught ASAP. However, there is no guarantee that the returned config
// is valid and will work.
//
// All problems are reported at once, so that they can be fixed in one go.
func configFromEnv() (config, error) {
	c := defaultConfig()

	var errs []error
	for _, key := range requiredKeys {
		if _, ok := os.LookupEnv(key); !ok {
			errs = append(errs, fmt.Errorf("missing required env variable %s", key))
		}
	}

	for key, mf := range envMap {
		if val, ok := os.LookupEnv(key); ok {
			if err := mf(val, &c); err != nil {
				errs = append(errs, fmt.Errorf("invalid env variable %s: %w", key, err))
			}
		}
	}

	errs = append(errs, c.email.validate()...)

	return c, errors.Join(errs...)
}

// validate checks the settings required by the selected driver.
func (c emailConfig) validate() []error {
	var errs []error
	switch c.driver {
	case emailDriverPostmark:
		if c.postmark.ServerToken.IsZero() {
			errs = append(errs, errors.New("env variable POSTMARK_SERVER_TOKEN is required for the postmark driver"))
		}
	case emailDriverMailgun:
		if c.mailgun.Domain == "" {
			errs = append(errs, errors.New("env variable MAILGUN_DOMAIN is required for the mailgun driver"))
		}
		if c.mailgun.Password.IsZero() {
			errs = append(errs, errors.New("env variable MAILGUN_PASSWORD is required for the mailgun driver"))
		}
	}
	return errs
}

// confDuration attempts to parse v into tgt and checks if the result is in
// the provided range (inclusive).
func confDuration(v string, tgt *time.Duration, min, max time.Duration) error {
	dur, err := time.ParseDuration(v)
	if err != nil {
		return err
	}

	if dur < min || dur > max {
		return fmt.Errorf("duration %s not in range [%s, %s] (inclusive)", dur, min, max)
	}

	*tgt = dur

	return nil
}

func confBool(v string, tgt *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}

	*tgt = b

	return nil
}

func confKey(v string, tgt *krypto.Key) error {
	k, err := krypto.ParseKey(v)
	if err != nil {
		return err
	}

	*tgt = k

	return nil
}

// confAbsURL parses v into tgt, the URL needs a scheme and a host.
func confAbsURL(v string, tgt **url.URL) error {
	u, err := url.Parse(v)
	if err != nil {
		return err
	}

	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("url %q should be absolute and have a host", v)
	}

	*tgt = u

	return nil
}

func must[T any](t T, err error) T {
	if err != nil {
		panic(err)
	}
	return t
}
