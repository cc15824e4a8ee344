package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// Listing bounds
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// DefaultPictureExtensions are the accepted profile picture file extensions.
var DefaultPictureExtensions = []string{"jpg", "jpeg", "png", "gif", "webp"}

// ProfileConfig holds the tunables of profile management.
type ProfileConfig struct {
	MaxPictureSize    int64
	PictureExtensions []string
	Email             EmailRules
}

// ProfileService reads and edits account profiles and their pictures.
type ProfileService struct {
	logger   *slog.Logger
	accounts AccountStore
	tokens   TokenStore
	tx       Transactor
	pictures PictureStore
	cfg      ProfileConfig
	now      func() time.Time
}

// NewProfileService creates a new profile service.
func NewProfileService(logger *slog.Logger, accounts AccountStore, tokens TokenStore, tx Transactor, pictures PictureStore, cfg ProfileConfig) *ProfileService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPictureSize <= 0 {
		cfg.MaxPictureSize = 5 << 20
	}
	if len(cfg.PictureExtensions) == 0 {
		cfg.PictureExtensions = DefaultPictureExtensions
	}
	return &ProfileService{
		logger:   logger,
		accounts: accounts,
		tokens:   tokens,
		tx:       tx,
		pictures: pictures,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Get returns the account with the given id.
func (s *ProfileService) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

// List returns a page of accounts ordered by creation time and the total count.
// Out of range limits are clamped.
func (s *ProfileService) List(ctx context.Context, page domain.Page) ([]*domain.Account, int, error) {
	if page.Limit <= 0 {
		page.Limit = DefaultPageLimit
	}
	if page.Limit > MaxPageLimit {
		page.Limit = MaxPageLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return s.accounts.List(ctx, page)
}

// Update applies upd to the account id on behalf of actor.
func (s *ProfileService) Update(ctx context.Context, actor *domain.Account, id uuid.UUID, upd domain.AccountUpdate) (*domain.Account, error) {
	if !actor.CanManage(id) {
		return nil, domain.ErrPermissionDenied
	}

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	verr := &domain.ValidationError{}
	if upd.FirstName != nil {
		account.FirstName = CleanName(*upd.FirstName)
		if msg := checkName(account.FirstName); msg != "" {
			verr.Add("first_name", msg)
		}
	}
	if upd.LastName != nil {
		account.LastName = CleanName(*upd.LastName)
		if msg := checkName(account.LastName); msg != "" {
			verr.Add("last_name", msg)
		}
	}
	emailChanged := false
	if upd.Email != nil {
		email := NormalizeEmail(*upd.Email)
		if msg := s.cfg.Email.Check(email); msg != "" {
			verr.Add("email", msg)
		} else if email != account.Email {
			exists, err := s.accounts.ExistsByEmail(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("failed to check email: %w", err)
			}
			if exists {
				verr.Add("email", "account with this email already exists")
			}
			account.Email = email
			emailChanged = true
		}
	}
	if verr.HasErrors() {
		return nil, verr
	}

	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return nil, emailTakenError()
		}
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	if emailChanged {
		s.logger.Info("account email changed", "account_id", account.ID)
	}
	return account, nil
}

// Delete removes the account id and its tokens on behalf of actor, then its
// stored picture.
func (s *ProfileService) Delete(ctx context.Context, actor *domain.Account, id uuid.UUID) error {
	if !actor.CanManage(id) {
		return domain.ErrPermissionDenied
	}

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.tokens.DeleteByOwner(ctx, id); err != nil {
			return fmt.Errorf("failed to delete tokens: %w", err)
		}
		return s.accounts.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	if account.ProfilePicture != nil {
		s.removeObject(ctx, account.ID, *account.ProfilePicture)
	}

	s.logger.Info("account deleted", "account_id", id, "actor_id", actor.ID)
	return nil
}

// UploadPicture stores a new profile picture for actor and then drops the
// previous one. The record only ever points at a fully written object.
func (s *ProfileService) UploadPicture(ctx context.Context, actor *domain.Account, filename string, body io.Reader) (*domain.Account, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if !s.allowedExtension(ext) {
		return nil, domain.NewValidationError("picture",
			fmt.Sprintf("file extension %q is not allowed; allowed extensions are: %s", ext, strings.Join(s.cfg.PictureExtensions, ", ")))
	}

	data, err := io.ReadAll(io.LimitReader(body, s.cfg.MaxPictureSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read picture: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.NewValidationError("picture", "the submitted file is empty")
	}
	if int64(len(data)) > s.cfg.MaxPictureSize {
		return nil, domain.NewValidationError("picture", fmt.Sprintf("file exceeds the maximum size of %d bytes", s.cfg.MaxPictureSize))
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, domain.NewValidationError("picture", "upload a valid image")
	}

	account, err := s.accounts.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	key := uuid.NewString() + "." + ext
	if err := s.pictures.Save(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, fmt.Errorf("failed to store picture: %w", err)
	}

	old := account.ProfilePicture
	account.ProfilePicture = &key
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		s.removeObject(ctx, account.ID, key)
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	if old != nil {
		s.removeObject(ctx, account.ID, *old)
	}
	return account, nil
}

// RemovePicture clears actor's profile picture and deletes the stored object.
func (s *ProfileService) RemovePicture(ctx context.Context, actor *domain.Account) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if account.ProfilePicture == nil {
		return account, nil
	}

	old := *account.ProfilePicture
	account.ProfilePicture = nil
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	s.removeObject(ctx, account.ID, old)
	return account, nil
}

// PictureURL returns the public URL of the account's picture, or "".
func (s *ProfileService) PictureURL(account *domain.Account) string {
	if account.ProfilePicture == nil {
		return ""
	}
	return s.pictures.URL(*account.ProfilePicture)
}

func (s *ProfileService) allowedExtension(ext string) bool {
	for _, allowed := range s.cfg.PictureExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// removeObject deletes a picture object. Failures leave an orphaned object
// and are only logged.
func (s *ProfileService) removeObject(ctx context.Context, accountID uuid.UUID, key string) {
	if err := s.pictures.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Error("failed to delete picture", "error", err, "account_id", accountID, "key", key)
	}
}
