package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-accounts/internal/metrics"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// maxTxAttempts bounds reruns of an operation whose token issuance lost a race.
const maxTxAttempts = 3

// AccountConfig holds the tunables of the account lifecycle.
type AccountConfig struct {
	AuthTokenTTL          time.Duration
	ConfirmationTokenTTL  time.Duration // 0 means confirmation tokens never expire
	PasswordResetTokenTTL time.Duration
	TokenBytes            int
	Email                 EmailRules
	PasswordPolicy        PasswordPolicy
}

// AccountService drives registration, confirmation, login, logout and
// password reset on top of the token issuer and validator.
type AccountService struct {
	logger    *slog.Logger
	accounts  AccountStore
	tokens    TokenStore
	tx        Transactor
	mailer    Mailer
	issuer    *TokenIssuer
	validator *TokenValidator
	cfg       AccountConfig
	now       func() time.Time
}

// NewAccountService creates a new account service.
func NewAccountService(logger *slog.Logger, accounts AccountStore, tokens TokenStore, tx Transactor, mailer Mailer, cfg AccountConfig) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	issuer := NewTokenIssuer(tokens, cfg.TokenBytes)
	return &AccountService{
		logger:    logger,
		accounts:  accounts,
		tokens:    tokens,
		tx:        tx,
		mailer:    mailer,
		issuer:    issuer,
		validator: NewTokenValidator(logger, tokens, accounts, issuer),
		cfg:       cfg,
		now:       time.Now,
	}
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Email                string
	FirstName            string
	LastName             string
	Password             string
	PasswordConfirmation string
}

// Register creates an inactive account, issues its confirmation token and
// mails it. Nothing is persisted if the mail cannot be sent.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (account *domain.Account, err error) {
	defer func() { s.observe("register", err) }()

	email := NormalizeEmail(in.Email)
	firstName := CleanName(in.FirstName)
	lastName := CleanName(in.LastName)

	verr := &domain.ValidationError{}
	if msg := s.cfg.Email.Check(email); msg != "" {
		verr.Add("email", msg)
	}
	if msg := checkName(firstName); msg != "" {
		verr.Add("first_name", msg)
	}
	if msg := checkName(lastName); msg != "" {
		verr.Add("last_name", msg)
	}
	checkNewPassword(verr, s.cfg.PasswordPolicy, "password", "password_confirmation", in.Password, in.PasswordConfirmation)
	if verr.HasErrors() {
		return nil, verr
	}

	exists, err := s.accounts.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, emailTakenError()
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	err = s.inTx(ctx, func(ctx context.Context, w *tokenWrites) error {
		now := s.now().UTC()
		account = &domain.Account{
			ID:           uuid.New(),
			Email:        email,
			FirstName:    firstName,
			LastName:     lastName,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.accounts.Create(ctx, account); err != nil {
			if errors.Is(err, domain.ErrEmailTaken) {
				return emailTakenError()
			}
			return fmt.Errorf("failed to create account: %w", err)
		}

		token, err := s.issue(ctx, w, account.ID, domain.TokenPurposeConfirmation)
		if err != nil {
			return err
		}

		return s.notify(ctx, "confirmation", account, func() error {
			return s.mailer.SendConfirmation(ctx, account.Email, token.Value)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account registered", "account_id", account.ID)
	return account, nil
}

// Confirm activates the account owning a confirmation token and consumes the
// token. A token that was already used or never existed yields domain.ErrTokenNotFound.
func (s *AccountService) Confirm(ctx context.Context, value string) (account *domain.Account, err error) {
	defer func() { s.observe("confirm", err) }()

	// Expiry handling writes outside the transaction so that deleting an
	// expired token survives the failed request.
	account, token, err := s.validator.Validate(ctx, value, domain.TokenPurposeConfirmation, s.cfg.ConfirmationTokenTTL)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(ctx context.Context, w *tokenWrites) error {
		if err := s.accounts.SetActive(ctx, account.ID, true); err != nil {
			return fmt.Errorf("failed to activate account: %w", err)
		}
		return s.consume(ctx, w, token)
	})
	if err != nil {
		return nil, err
	}

	account.IsActive = true
	s.logger.Info("account confirmed", "account_id", account.ID)
	return account, nil
}

// ResendConfirmation reissues and mails a confirmation token. Unknown and
// already active addresses succeed silently.
func (s *AccountService) ResendConfirmation(ctx context.Context, email string) (err error) {
	defer func() { s.observe("resend_confirmation", err) }()

	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get account: %w", err)
	}
	if account.IsActive {
		return nil
	}

	return s.issueAndMail(ctx, account, domain.TokenPurposeConfirmation, "confirmation", s.mailer.SendConfirmation)
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token   string
	Account *domain.Account
}

// Login checks credentials and returns the owner's live auth token, issuing
// a new one when none exists or the current one has expired.
func (s *AccountService) Login(ctx context.Context, email, password string) (result *LoginResult, err error) {
	defer func() { s.observe("login", err) }()

	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	ok, err := VerifyPassword(password, account.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash is unreadable", "error", err, "account_id", account.ID)
		return nil, domain.ErrAuthenticationFailed
	}
	if !ok || !account.CanAuthenticate() {
		return nil, domain.ErrAuthenticationFailed
	}

	var token *domain.Token
	err = s.inTx(ctx, func(ctx context.Context, w *tokenWrites) error {
		now := s.now().UTC()

		current, err := s.tokens.FindByOwnerAndPurpose(ctx, account.ID, domain.TokenPurposeAuth)
		switch {
		case err == nil && !current.Expired(now, s.cfg.AuthTokenTTL):
			token = current
		case err == nil || errors.Is(err, domain.ErrTokenNotFound):
			if token, err = s.issue(ctx, w, account.ID, domain.TokenPurposeAuth); err != nil {
				return err
			}
		default:
			return fmt.Errorf("failed to look up auth token: %w", err)
		}

		if err := s.accounts.UpdateLastLogin(ctx, account.ID, now); err != nil {
			return fmt.Errorf("failed to record login: %w", err)
		}
		account.LastLogin = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &LoginResult{Token: token.Value, Account: account}, nil
}

// Logout deletes an auth token. Absent tokens are not an error.
func (s *AccountService) Logout(ctx context.Context, value string) (err error) {
	defer func() { s.observe("logout", err) }()

	token, err := s.tokens.Get(ctx, value)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get token: %w", err)
	}
	if token.Purpose != domain.TokenPurposeAuth {
		return nil
	}
	if err := s.tokens.Delete(ctx, token); err != nil && !errors.Is(err, domain.ErrTokenNotFound) {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Authenticate resolves an auth token to an active account. Unknown tokens
// and inactive owners fail with domain.ErrAuthenticationFailed; expired
// tokens are rotated and fail with domain.ErrTokenExpired.
func (s *AccountService) Authenticate(ctx context.Context, value string) (*domain.Account, *domain.Token, error) {
	account, token, err := s.validator.Validate(ctx, value, domain.TokenPurposeAuth, s.cfg.AuthTokenTTL)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return nil, nil, domain.ErrAuthenticationFailed
		}
		return nil, nil, err
	}
	if !account.CanAuthenticate() {
		return nil, nil, domain.ErrAuthenticationFailed
	}
	return account, token, nil
}

// RequestPasswordReset issues and mails a reset token. Unknown addresses
// succeed without issuing anything.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) (err error) {
	defer func() { s.observe("password_reset_request", err) }()

	email = NormalizeEmail(email)
	if msg := s.cfg.Email.Check(email); msg != "" {
		return domain.NewValidationError("email", msg)
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get account: %w", err)
	}

	return s.issueAndMail(ctx, account, domain.TokenPurposePasswordReset, "password_reset", s.mailer.SendPasswordReset)
}

// CheckPasswordReset reports whether a reset token is currently usable.
func (s *AccountService) CheckPasswordReset(ctx context.Context, value string) error {
	_, _, err := s.validator.Validate(ctx, value, domain.TokenPurposePasswordReset, s.cfg.PasswordResetTokenTTL)
	return err
}

// ResetInput is the payload that completes a password reset.
type ResetInput struct {
	Token                string
	Password             string
	PasswordConfirmation string
}

// ConfirmPasswordReset sets a new password for the reset token's owner,
// consumes the token and ends the owner's session.
func (s *AccountService) ConfirmPasswordReset(ctx context.Context, in ResetInput) (err error) {
	defer func() { s.observe("password_reset", err) }()

	verr := &domain.ValidationError{}
	checkNewPassword(verr, s.cfg.PasswordPolicy, "password", "password_confirmation", in.Password, in.PasswordConfirmation)
	if verr.HasErrors() {
		return verr
	}

	account, token, err := s.validator.Validate(ctx, in.Token, domain.TokenPurposePasswordReset, s.cfg.PasswordResetTokenTTL)
	if err != nil {
		return err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	err = s.inTx(ctx, func(ctx context.Context, w *tokenWrites) error {
		if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		if err := s.consume(ctx, w, token); err != nil {
			return err
		}
		return s.endSession(ctx, w, account.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("password reset", "account_id", account.ID)
	return nil
}

// ChangePasswordInput is the payload for an authenticated password change.
type ChangePasswordInput struct {
	OldPassword             string
	NewPassword             string
	NewPasswordConfirmation string
}

// ChangePassword replaces the password of an authenticated account after
// checking the current one. The caller's auth token stays valid.
func (s *AccountService) ChangePassword(ctx context.Context, actor *domain.Account, in ChangePasswordInput) (err error) {
	defer func() { s.observe("password_change", err) }()

	account, err := s.accounts.GetByID(ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}

	verr := &domain.ValidationError{}
	ok, err := VerifyPassword(in.OldPassword, account.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash is unreadable", "error", err, "account_id", account.ID)
	}
	if !ok {
		verr.Add("old_password", "wrong password")
	}
	checkNewPassword(verr, s.cfg.PasswordPolicy, "new_password", "new_password_confirmation", in.NewPassword, in.NewPasswordConfirmation)
	if verr.HasErrors() {
		return verr
	}

	hash, err := HashPassword(in.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.Info("password changed", "account_id", account.ID)
	return nil
}

// CreateSuperuser creates an active staff superuser without confirmation.
func (s *AccountService) CreateSuperuser(ctx context.Context, email, password string) (*domain.Account, error) {
	email = NormalizeEmail(email)

	verr := &domain.ValidationError{}
	if msg := s.cfg.Email.Check(email); msg != "" {
		verr.Add("email", msg)
	}
	checkNewPassword(verr, s.cfg.PasswordPolicy, "password", "password", password, password)
	if verr.HasErrors() {
		return nil, verr
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	account := &domain.Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		IsStaff:      true,
		IsSuperuser:  true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return nil, emailTakenError()
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("superuser created", "account_id", account.ID)
	return account, nil
}

// PurgeExpiredTokens deletes tokens older than their purpose's TTL. Purposes
// without a TTL are skipped. It returns the number removed per purpose.
func (s *AccountService) PurgeExpiredTokens(ctx context.Context) (map[domain.TokenPurpose]int64, error) {
	ttls := map[domain.TokenPurpose]time.Duration{
		domain.TokenPurposeConfirmation:  s.cfg.ConfirmationTokenTTL,
		domain.TokenPurposeAuth:          s.cfg.AuthTokenTTL,
		domain.TokenPurposePasswordReset: s.cfg.PasswordResetTokenTTL,
	}

	now := s.now().UTC()
	purged := make(map[domain.TokenPurpose]int64, len(ttls))
	for purpose, ttl := range ttls {
		if ttl <= 0 {
			continue
		}
		n, err := s.tokens.DeleteIssuedBefore(ctx, purpose, now.Add(-ttl))
		if err != nil {
			return purged, fmt.Errorf("failed to purge %s tokens: %w", purpose, err)
		}
		purged[purpose] = n
		metrics.TokensPurged.WithLabelValues(purpose.String()).Add(float64(n))
	}
	return purged, nil
}

// issueAndMail replaces the owner's token for purpose and mails it in one
// transaction. If the mail fails the previous token stays live.
func (s *AccountService) issueAndMail(ctx context.Context, account *domain.Account, purpose domain.TokenPurpose, kind string, send func(ctx context.Context, to, token string) error) error {
	return s.inTx(ctx, func(ctx context.Context, w *tokenWrites) error {
		token, err := s.issue(ctx, w, account.ID, purpose)
		if err != nil {
			return err
		}
		return s.notify(ctx, kind, account, func() error {
			return send(ctx, account.Email, token.Value)
		})
	})
}

// notify runs send and maps its failure to domain.ErrServiceUnavailable.
func (s *AccountService) notify(ctx context.Context, kind string, account *domain.Account, send func() error) error {
	if err := send(); err != nil {
		metrics.NotificationFailures.WithLabelValues(kind).Inc()
		s.logger.ErrorContext(ctx, "failed to send notification", "error", err, "account_id", account.ID, "kind", kind)
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return nil
}

// consume deletes a one-time token. Losing a concurrent consume surfaces as
// domain.ErrTokenNotFound so the enclosing transaction rolls back.
func (s *AccountService) consume(ctx context.Context, w *tokenWrites, token *domain.Token) error {
	if err := s.tokens.Delete(ctx, token); err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return domain.ErrTokenNotFound
		}
		return fmt.Errorf("failed to delete token: %w", err)
	}
	w.removed = append(w.removed, token)
	return nil
}

func (s *AccountService) issue(ctx context.Context, w *tokenWrites, ownerID uuid.UUID, purpose domain.TokenPurpose) (*domain.Token, error) {
	token, prev, err := s.issuer.issue(ctx, ownerID, purpose)
	if err != nil {
		return nil, err
	}
	w.issued, w.replaced = token, prev
	return token, nil
}

func (s *AccountService) endSession(ctx context.Context, w *tokenWrites, ownerID uuid.UUID) error {
	token, err := s.tokens.FindByOwnerAndPurpose(ctx, ownerID, domain.TokenPurposeAuth)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up auth token: %w", err)
	}
	if err := s.tokens.Delete(ctx, token); err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete auth token: %w", err)
	}
	w.removed = append(w.removed, token)
	return nil
}

// tokenWrites records the token store writes of one transaction attempt.
type tokenWrites struct {
	issued   *domain.Token
	replaced *domain.Token
	removed  []*domain.Token
}

// inTx runs fn in a transaction, rerunning it when token issuance lost a race.
// The token writes of a failed attempt are undone before it returns or reruns.
func (s *AccountService) inTx(ctx context.Context, fn func(ctx context.Context, w *tokenWrites) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		var w tokenWrites
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			return fn(ctx, &w)
		})
		if err != nil {
			s.undo(ctx, &w)
		}
		if !errors.Is(err, domain.ErrTokenConflict) {
			return err
		}
		s.logger.WarnContext(ctx, "token issuance conflict, retrying", "attempt", attempt)
	}
	return err
}

// undo reverts the token writes of a failed attempt. Token stores that do
// not take part in the transaction keep their writes after a rollback; for
// those that do, the rollback already reverted them and the store reports
// a conflict or a missing token, which is ignored.
func (s *AccountService) undo(ctx context.Context, w *tokenWrites) {
	ctx = context.WithoutCancel(ctx)
	if w.issued != nil {
		var err error
		if w.replaced != nil {
			err = s.tokens.Replace(ctx, w.issued, w.replaced)
		} else {
			err = s.tokens.Delete(ctx, w.issued)
		}
		if err != nil && !reverted(err) {
			s.logger.ErrorContext(ctx, "failed to discard token", "error", err, "account_id", w.issued.OwnerID, "purpose", w.issued.Purpose)
		}
	}
	for _, token := range w.removed {
		if err := s.tokens.Put(ctx, token); err != nil && !reverted(err) {
			s.logger.ErrorContext(ctx, "failed to restore token", "error", err, "account_id", token.OwnerID, "purpose", token.Purpose)
		}
	}
}

func reverted(err error) bool {
	return errors.Is(err, domain.ErrTokenConflict) || errors.Is(err, domain.ErrTokenNotFound)
}

func (s *AccountService) observe(operation string, err error) {
	metrics.Operations.WithLabelValues(operation, outcome(err)).Inc()
}

func emailTakenError() error {
	return domain.NewValidationError("email", "account with this email already exists")
}

// outcome classifies err for metrics labels.
func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, domain.ErrTokenExpired):
		return metrics.ResultExpired
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return "denied"
	case errors.Is(err, domain.ErrPermissionDenied):
		return "denied"
	case errors.Is(err, domain.ErrServiceUnavailable):
		return "unavailable"
	default:
		return metrics.ResultError
	}
}
