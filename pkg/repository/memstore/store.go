// Package memstore is an in-memory account and token store for development
// and tests. It honours the same uniqueness rules as the Postgres schema and
// supports rollback through Store.WithinTx. Writes made outside WithinTx
// while a transaction is running are lost if that transaction rolls back.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-accounts/pkg/domain"
)

type ownerSlot struct {
	owner   uuid.UUID
	purpose domain.TokenPurpose
}

type snapshot struct {
	accounts map[uuid.UUID]domain.Account
	tokens   map[string]domain.Token
}

// Store holds accounts and tokens in memory.
type Store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]domain.Account
	tokens   map[string]domain.Token
	owners   map[ownerSlot]string

	txMu sync.Mutex
}

type txKey struct{}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]domain.Account),
		tokens:   make(map[string]domain.Token),
		owners:   make(map[ownerSlot]string),
	}
}

// Accounts returns the account store view.
func (s *Store) Accounts() *Accounts { return &Accounts{s: s} }

// Tokens returns the token store view.
func (s *Store) Tokens() *Tokens { return &Tokens{s: s} }

// WithinTx runs fn while holding the store's transaction lock and restores
// the previous contents if fn fails. Nested calls join the outer one.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) == s {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		accounts: make(map[uuid.UUID]domain.Account, len(s.accounts)),
		tokens:   make(map[string]domain.Token, len(s.tokens)),
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.tokens {
		snap.tokens[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = snap.accounts
	s.tokens = snap.tokens
	s.owners = make(map[ownerSlot]string, len(snap.tokens))
	for v, t := range snap.tokens {
		s.owners[ownerSlot{t.OwnerID, t.Purpose}] = v
	}
}

// Accounts implements the account store over a Store.
type Accounts struct {
	s *Store
}

func (a *Accounts) emailTaken(email string, except uuid.UUID) bool {
	for id, acct := range a.s.accounts {
		if id != except && strings.EqualFold(acct.Email, email) {
			return true
		}
	}
	return false
}

// Create inserts a new account.
func (a *Accounts) Create(_ context.Context, acct *domain.Account) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.emailTaken(acct.Email, uuid.Nil) {
		return domain.ErrEmailTaken
	}
	a.s.accounts[acct.ID] = cloneAccount(*acct)
	return nil
}

// GetByID retrieves an account by ID.
func (a *Accounts) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	acct, ok := a.s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	c := cloneAccount(acct)
	return &c, nil
}

// GetByEmail retrieves an account by email, ignoring case.
func (a *Accounts) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, acct := range a.s.accounts {
		if strings.EqualFold(acct.Email, email) {
			c := cloneAccount(acct)
			return &c, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

// ExistsByEmail checks if an account exists by email, ignoring case.
func (a *Accounts) ExistsByEmail(_ context.Context, email string) (bool, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return a.emailTaken(email, uuid.Nil), nil
}

// Update writes the editable profile fields of an account.
func (a *Accounts) Update(_ context.Context, acct *domain.Account) error {
	return a.modify(acct.ID, func(cur *domain.Account) error {
		if a.emailTaken(acct.Email, acct.ID) {
			return domain.ErrEmailTaken
		}
		cur.Email = acct.Email
		cur.FirstName = acct.FirstName
		cur.LastName = acct.LastName
		cur.ProfilePicture = clonePtr(acct.ProfilePicture)
		cur.UpdatedAt = acct.UpdatedAt
		return nil
	})
}

// UpdatePassword replaces an account's password hash.
func (a *Accounts) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	return a.modify(id, func(cur *domain.Account) error {
		cur.PasswordHash = passwordHash
		cur.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// SetActive sets the activation flag of an account.
func (a *Accounts) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	return a.modify(id, func(cur *domain.Account) error {
		cur.IsActive = active
		cur.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// UpdateLastLogin records the time of a successful login.
func (a *Accounts) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	return a.modify(id, func(cur *domain.Account) error {
		cur.LastLogin = &at
		return nil
	})
}

// Delete removes an account and cascades to its tokens.
func (a *Accounts) Delete(_ context.Context, id uuid.UUID) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.accounts[id]; !ok {
		return domain.ErrAccountNotFound
	}
	delete(a.s.accounts, id)
	for v, t := range a.s.tokens {
		if t.OwnerID == id {
			a.s.dropToken(v, t)
		}
	}
	return nil
}

// List returns a page of accounts ordered by creation time and the total count.
func (a *Accounts) List(_ context.Context, page domain.Page) ([]*domain.Account, int, error) {
	a.s.mu.Lock()
	all := make([]domain.Account, 0, len(a.s.accounts))
	for _, acct := range a.s.accounts {
		all = append(all, cloneAccount(acct))
	}
	a.s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	out := []*domain.Account{}
	for i := page.Offset; i < len(all) && len(out) < page.Limit; i++ {
		out = append(out, &all[i])
	}
	return out, len(all), nil
}

func (a *Accounts) modify(id uuid.UUID, fn func(cur *domain.Account) error) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	cur, ok := a.s.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if err := fn(&cur); err != nil {
		return err
	}
	a.s.accounts[id] = cur
	return nil
}

// Tokens implements the token store over a Store.
type Tokens struct {
	s *Store
}

// Put inserts a token.
func (t *Tokens) Put(_ context.Context, tok *domain.Token) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.putToken(tok)
}

// Get retrieves a token by value.
func (t *Tokens) Get(_ context.Context, value string) (*domain.Token, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tok, ok := t.s.tokens[value]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	return &tok, nil
}

// FindByOwnerAndPurpose retrieves the owner's token for purpose.
func (t *Tokens) FindByOwnerAndPurpose(_ context.Context, ownerID uuid.UUID, purpose domain.TokenPurpose) (*domain.Token, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	value, ok := t.s.owners[ownerSlot{ownerID, purpose}]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	tok := t.s.tokens[value]
	return &tok, nil
}

// Delete removes a token.
func (t *Tokens) Delete(_ context.Context, tok *domain.Token) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.tokens[tok.Value]
	if !ok {
		return domain.ErrTokenNotFound
	}
	t.s.dropToken(tok.Value, cur)
	return nil
}

// Replace swaps prev for next atomically.
func (t *Tokens) Replace(_ context.Context, prev, next *domain.Token) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	slot := ownerSlot{next.OwnerID, next.Purpose}
	current, occupied := t.s.owners[slot]
	switch {
	case prev == nil && occupied:
		return domain.ErrTokenConflict
	case prev != nil && (!occupied || current != prev.Value):
		return domain.ErrTokenConflict
	}
	if _, taken := t.s.tokens[next.Value]; taken {
		return domain.ErrTokenConflict
	}
	if prev != nil {
		t.s.dropToken(prev.Value, t.s.tokens[prev.Value])
	}
	return t.s.putToken(next)
}

// DeleteByOwner removes every token of an owner.
func (t *Tokens) DeleteByOwner(_ context.Context, ownerID uuid.UUID) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for v, tok := range t.s.tokens {
		if tok.OwnerID == ownerID {
			t.s.dropToken(v, tok)
		}
	}
	return nil
}

// DeleteIssuedBefore removes tokens of purpose issued before cutoff.
func (t *Tokens) DeleteIssuedBefore(_ context.Context, purpose domain.TokenPurpose, cutoff time.Time) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var n int64
	for v, tok := range t.s.tokens {
		if tok.Purpose == purpose && tok.IssuedAt.Before(cutoff) {
			t.s.dropToken(v, tok)
			n++
		}
	}
	return n, nil
}

// putToken and dropToken require s.mu.
func (s *Store) putToken(tok *domain.Token) error {
	slot := ownerSlot{tok.OwnerID, tok.Purpose}
	if _, ok := s.tokens[tok.Value]; ok {
		return domain.ErrTokenConflict
	}
	if _, ok := s.owners[slot]; ok {
		return domain.ErrTokenConflict
	}
	if _, ok := s.accounts[tok.OwnerID]; !ok {
		return domain.ErrAccountNotFound
	}
	s.tokens[tok.Value] = *tok
	s.owners[slot] = tok.Value
	return nil
}

func (s *Store) dropToken(value string, tok domain.Token) {
	delete(s.tokens, value)
	slot := ownerSlot{tok.OwnerID, tok.Purpose}
	if s.owners[slot] == value {
		delete(s.owners, slot)
	}
}

func cloneAccount(a domain.Account) domain.Account {
	a.ProfilePicture = clonePtr(a.ProfilePicture)
	if a.LastLogin != nil {
		t := *a.LastLogin
		a.LastLogin = &t
	}
	return a
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
