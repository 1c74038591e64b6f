package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/willemschots/notekeeper/internal/email"
	"github.com/willemschots/notekeeper/internal/errorz"
	"github.com/willemschots/notekeeper/internal/krypto"
)

var (
	// ErrDuplicateEmail indicates an account with the email address already exists.
	ErrDuplicateEmail = errors.New("duplicate email")
	// ErrInvalidToken indicates a token is unknown, expired, already used or malformed.
	ErrInvalidToken = krypto.ErrInvalidToken
	// ErrInvalidCredentials indicates the email is unknown or the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownEmail indicates no account exists for the email address.
	ErrUnknownEmail = errors.New("unknown email")
	// ErrNotActivated indicates the account still needs to be activated before logging in.
	ErrNotActivated = errors.New("account not activated")
	// ErrInvalidBaseURL indicates a link can not be built from the provided base URL.
	ErrInvalidBaseURL = errors.New("invalid base url")
	// ErrInvalidConfig indicates the service can not work with the provided configuration.
	ErrInvalidConfig = errors.New("invalid service config")
)

// Notifier delivers links to account holders.
type Notifier interface {
	SendActivationLink(ctx context.Context, to email.Address, link string) error
	SendResetLink(ctx context.Context, to email.Address, link string) error
}

// ErrFunc is a function that handles errors.
type ErrFunc func(error)

// ServiceConfig is the configuration for the Service.
type ServiceConfig struct {
	// WorkerTimeout is the max duration worker goroutines are allowed
	// to take before they are cancelled.
	WorkerTimeout time.Duration
	// TokenExpiry is the duration a token is valid after it was issued.
	TokenExpiry time.Duration
	// RequireActivation prevents accounts that are still pending activation from logging in.
	RequireActivation bool
}

// Service is the type that provides the main rules for
// the account lifecycle.
type Service struct {
	store      Store
	notifier   Notifier
	wg         *sync.WaitGroup
	errHandler ErrFunc
	cfg        ServiceConfig

	// comparisonHash is used to compare passwords when no account was found.
	comparisonHash krypto.Argon2Hash

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

func NewService(s Store, notifier Notifier, errHandler ErrFunc, cfg ServiceConfig) (*Service, error) {
	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	tok, err := krypto.GenerateToken()
	if err != nil {
		return nil, err
	}

	hash, err := krypto.HashArgon2(tok.Bytes())
	if err != nil {
		return nil, err
	}

	svc := &Service{
		store:          s,
		notifier:       notifier,
		wg:             &sync.WaitGroup{},
		errHandler:     errHandler,
		cfg:            cfg,
		comparisonHash: hash,
		NowFunc:        time.Now,
	}

	return svc, nil
}

// validate rejects durations that would fail every token or every notification.
func (c ServiceConfig) validate() error {
	var errs []error
	if c.TokenExpiry <= 0 {
		errs = append(errs, fmt.Errorf("%w: token expiry should be positive, got %s", ErrInvalidConfig, c.TokenExpiry))
	}

	if c.WorkerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: worker timeout should be positive, got %s", ErrInvalidConfig, c.WorkerTimeout))
	}

	return errors.Join(errs...)
}

// Wait waits for all open workers to finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Registration contains the details required to register a new account.
type Registration struct {
	Email    email.Address
	Password Password
	Name     string
}

func (r Registration) validate() error {
	var errs errorz.InvalidInput
	if r.Email == "" {
		errs = append(errs, errorz.Keyed{Key: "email", Err: email.ErrInvalidEmail})
	}

	if r.Password.IsZero() {
		errs = append(errs, errorz.Keyed{Key: "password", Err: ErrInvalidPassword})
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// Credentials are used to log in.
type Credentials struct {
	Email    email.Address
	Password Password
}

// PasswordReset is a request to replace the password of the account
// that was issued Token.
type PasswordReset struct {
	Token    krypto.Token
	Password Password
}

// RegisterUser creates a new account that is pending activation and sends
// an activation link to its email address. The link is activationBaseURL
// with the activation token appended as the last path segment.
//
// Registration is successful once the account is persisted, sending the link
// happens in the background and failures are reported to the error handler.
func (s *Service) RegisterUser(ctx context.Context, reg Registration, activationBaseURL string) error {
	if err := reg.validate(); err != nil {
		return err
	}

	base, err := parseBaseURL(activationBaseURL)
	if err != nil {
		return err
	}

	pwdHash, err := reg.Password.Hash()
	if err != nil {
		return err
	}

	token, err := krypto.GenerateToken()
	if err != nil {
		return err
	}

	now := s.NowFunc()

	acc := Account{
		Email:        reg.Email,
		Name:         reg.Name,
		PasswordHash: pwdHash,
		Status:       StatusPendingActivation,
		ActivationToken: &IssuedToken{
			Token:    token,
			IssuedAt: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.inTx(ctx, func(tx Tx) error {
		accounts, txErr := tx.FindAccounts(&AccountFilter{
			Emails: []email.Address{acc.Email},
		})
		if txErr != nil {
			return txErr
		}

		if len(accounts) > 0 {
			return ErrDuplicateEmail
		}

		txErr = tx.SaveAccount(&acc)
		if errors.Is(txErr, errorz.ErrConstraintViolated) {
			return ErrDuplicateEmail
		}

		return txErr
	})
	if err != nil {
		return err
	}

	link := base.JoinPath(token.String()).String()
	s.runWorker("send activation link", func(wCtx context.Context) error {
		return s.notifier.SendActivationLink(wCtx, acc.Email, link)
	})

	return nil
}

// ActivateAccount activates the account that was issued the activation token.
// A token can only be used once.
func (s *Service) ActivateAccount(ctx context.Context, token krypto.Token) error {
	if token.IsZero() {
		return ErrInvalidToken
	}

	err := s.inTx(ctx, func(tx Tx) error {
		accounts, err := tx.FindAccounts(&AccountFilter{
			ActivationTokens: []krypto.Token{token},
		})
		if err != nil {
			return err
		}

		if len(accounts) != 1 {
			return ErrInvalidToken
		}

		acc := accounts[0]
		now := s.NowFunc()

		if !acc.ActivationToken.ValidAt(now, s.cfg.TokenExpiry) {
			return ErrInvalidToken
		}

		err = acc.Activate(now)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}

		return tx.SaveAccount(&acc)
	})

	return mapLostRace(err)
}

// LoginUser checks the credentials and returns the matching account.
// It returns ErrInvalidCredentials both for unknown emails and wrong passwords.
func (s *Service) LoginUser(ctx context.Context, c Credentials) (Account, error) {
	if c.Email == "" || c.Password.IsZero() {
		_ = c.Password.Match(s.comparisonHash)
		return Account{}, ErrInvalidCredentials
	}

	accounts, err := s.store.FindAccounts(ctx, &AccountFilter{
		Emails: []email.Address{c.Email},
	})
	if err != nil {
		return Account{}, err
	}

	if len(accounts) != 1 {
		// Even if no account is found we compare to a hash to prevent timing differences
		// that could result in user enumeration attacks.
		_ = c.Password.Match(s.comparisonHash)
		return Account{}, ErrInvalidCredentials
	}

	acc := accounts[0]
	if !c.Password.Match(acc.PasswordHash) {
		return Account{}, ErrInvalidCredentials
	}

	if s.cfg.RequireActivation && !acc.IsActive() {
		return Account{}, ErrNotActivated
	}

	return acc, nil
}

// ForgotPassword issues a new reset token for the account with the email address
// and sends a reset link to it. The link is resetBaseURL with the reset token
// appended as the last path segment. Earlier reset tokens stop being valid.
//
// Unlike LoginUser, ForgotPassword reports unknown emails with ErrUnknownEmail.
func (s *Service) ForgotPassword(ctx context.Context, addr email.Address, resetBaseURL string) error {
	if addr == "" {
		return errorz.InvalidInput{errorz.Keyed{Key: "email", Err: email.ErrInvalidEmail}}
	}

	base, err := parseBaseURL(resetBaseURL)
	if err != nil {
		return err
	}

	token, err := krypto.GenerateToken()
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx Tx) error {
		accounts, txErr := tx.FindAccounts(&AccountFilter{
			Emails: []email.Address{addr},
		})
		if txErr != nil {
			return txErr
		}

		if len(accounts) != 1 {
			return ErrUnknownEmail
		}

		acc := accounts[0]
		acc.IssueResetToken(token, s.NowFunc())

		return tx.SaveAccount(&acc)
	})
	if err != nil {
		return err
	}

	link := base.JoinPath(token.String()).String()
	s.runWorker("send reset link", func(wCtx context.Context) error {
		return s.notifier.SendResetLink(wCtx, addr, link)
	})

	return nil
}

// ResetPassword replaces the password of the account that was issued the reset token.
// A token can only be used once.
func (s *Service) ResetPassword(ctx context.Context, r PasswordReset) error {
	if r.Token.IsZero() {
		return ErrInvalidToken
	}

	if r.Password.IsZero() {
		return errorz.InvalidInput{errorz.Keyed{Key: "password", Err: ErrInvalidPassword}}
	}

	pwdHash, err := r.Password.Hash()
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx Tx) error {
		accounts, err := tx.FindAccounts(&AccountFilter{
			ResetTokens: []krypto.Token{r.Token},
		})
		if err != nil {
			return err
		}

		if len(accounts) != 1 {
			return ErrInvalidToken
		}

		acc := accounts[0]
		now := s.NowFunc()

		if !acc.ResetToken.ValidAt(now, s.cfg.TokenExpiry) {
			return ErrInvalidToken
		}

		err = acc.ResetPassword(pwdHash, now)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}

		return tx.SaveAccount(&acc)
	})

	return mapLostRace(err)
}

// FindAccount returns the account with the provided ID.
// It returns errorz.ErrNotFound if no such account exists.
func (s *Service) FindAccount(ctx context.Context, id int) (Account, error) {
	accounts, err := s.store.FindAccounts(ctx, &AccountFilter{
		IDs: []int{id},
	})
	if err != nil {
		return Account{}, err
	}

	if len(accounts) != 1 {
		return Account{}, errorz.ErrNotFound
	}

	return accounts[0], nil
}

// runWorker runs f in a tracked goroutine, bounded by the worker timeout.
// Errors are reported to the error handler.
func (s *Service) runWorker(name string, f func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		wCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WorkerTimeout)
		defer cancel()

		err := f(wCtx)
		if err != nil {
			s.errHandler(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (s *Service) inTx(ctx context.Context, f func(tx Tx) error) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return err
	}

	err = f(tx)
	if err != nil {
		rBackErr := tx.Rollback()
		if rBackErr != nil {
			err = errors.Join(err, rBackErr)
		}
		return err
	}

	err = tx.Commit()
	if err != nil {
		return err
	}

	return nil
}

// mapLostRace maps a save that lost against a concurrent update of the
// same account. For token operations that means the token was already used.
func mapLostRace(err error) error {
	if errors.Is(err, errorz.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return err
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute url", ErrInvalidBaseURL, raw)
	}

	return u, nil
}
