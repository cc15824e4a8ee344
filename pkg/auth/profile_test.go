package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-accounts/pkg/domain"
	"github.com/tendant/simple-accounts/pkg/repository/memstore"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type fakePictures struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
	deleted []string
}

func newFakePictures() *fakePictures {
	return &fakePictures{objects: map[string][]byte{}}
}

func (p *fakePictures) Save(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = data
	return nil
}

func (p *fakePictures) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, key)
	p.deleted = append(p.deleted, key)
	return nil
}

func (p *fakePictures) URL(key string) string { return "/media/" + key }

func (p *fakePictures) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.objects[key]
	return ok
}

type profileHarness struct {
	svc      *ProfileService
	store    *memstore.Store
	pictures *fakePictures
	created  time.Time
}

func newProfileHarness(t *testing.T) *profileHarness {
	t.Helper()
	store := memstore.New()
	pictures := newFakePictures()
	svc := NewProfileService(slog.New(slog.DiscardHandler), store.Accounts(), store.Tokens(), store, pictures, ProfileConfig{MaxPictureSize: 1024})
	return &profileHarness{svc: svc, store: store, pictures: pictures, created: time.Now().UTC()}
}

func (h *profileHarness) account(t *testing.T, email string, superuser bool) *domain.Account {
	t.Helper()
	h.created = h.created.Add(time.Second)
	a := &domain.Account{
		ID:          uuid.New(),
		Email:       email,
		IsActive:    true,
		IsStaff:     superuser,
		IsSuperuser: superuser,
		CreatedAt:   h.created,
		UpdatedAt:   h.created,
	}
	require.NoError(t, h.store.Accounts().Create(context.Background(), a))
	return a
}

func ptr(s string) *string { return &s }

func TestProfile_UpdatePermissions(t *testing.T) {
	h := newProfileHarness(t)
	ann := h.account(t, "ann@example.com", false)
	bob := h.account(t, "bob@example.com", false)
	admin := h.account(t, "admin@example.com", true)

	_, err := h.svc.Update(context.Background(), bob, ann.ID, domain.AccountUpdate{FirstName: ptr("Mallory")})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	got, err := h.svc.Update(context.Background(), ann, ann.ID, domain.AccountUpdate{FirstName: ptr("  Ann ")})
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.FirstName)
	assert.Empty(t, got.LastName, "unset fields are left alone")

	got, err = h.svc.Update(context.Background(), admin, ann.ID, domain.AccountUpdate{LastName: ptr("Lee")})
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", got.FullName())

	_, err = h.svc.Update(context.Background(), admin, uuid.New(), domain.AccountUpdate{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProfile_UpdateEmail(t *testing.T) {
	h := newProfileHarness(t)
	ann := h.account(t, "ann@example.com", false)
	h.account(t, "bob@example.com", false)

	_, err := h.svc.Update(context.Background(), ann, ann.ID, domain.AccountUpdate{Email: ptr("BOB@example.com")})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "account with this email already exists", verr.Fields["email"])

	_, err = h.svc.Update(context.Background(), ann, ann.ID, domain.AccountUpdate{Email: ptr("broken")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := h.svc.Update(context.Background(), ann, ann.ID, domain.AccountUpdate{Email: ptr(" Ann.New@Example.com")})
	require.NoError(t, err)
	assert.Equal(t, "ann.new@example.com", got.Email)

	got, err = h.svc.Update(context.Background(), ann, ann.ID, domain.AccountUpdate{Email: ptr("ann.new@example.com")})
	require.NoError(t, err, "keeping the same address is not a conflict")
	assert.Equal(t, "ann.new@example.com", got.Email)
}

func TestProfile_DeleteRemovesTokensAndPicture(t *testing.T) {
	h := newProfileHarness(t)
	ann := h.account(t, "ann@example.com", false)
	bob := h.account(t, "bob@example.com", false)
	ctx := context.Background()

	require.NoError(t, h.store.Tokens().Put(ctx, &domain.Token{
		ID: uuid.New(), OwnerID: ann.ID, Purpose: domain.TokenPurposeAuth, Value: "ann-auth", IssuedAt: time.Now(),
	}))
	withPicture, err := h.svc.UploadPicture(ctx, ann, "me.png", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	key := *withPicture.ProfilePicture

	assert.ErrorIs(t, h.svc.Delete(ctx, bob, ann.ID), domain.ErrPermissionDenied)

	require.NoError(t, h.svc.Delete(ctx, ann, ann.ID))
	_, err = h.svc.Get(ctx, ann.ID)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = h.store.Tokens().Get(ctx, "ann-auth")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	assert.False(t, h.pictures.has(key))

	assert.NoError(t, h.svc.Delete(ctx, bob, bob.ID))
}

func TestProfile_UploadReplacesPicture(t *testing.T) {
	h := newProfileHarness(t)
	ann := h.account(t, "ann@example.com", false)
	ctx := context.Background()

	first, err := h.svc.UploadPicture(ctx, ann, "first.PNG", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	require.NotNil(t, first.ProfilePicture)
	firstKey := *first.ProfilePicture
	assert.True(t, strings.HasSuffix(firstKey, ".png"))
	assert.Equal(t, "/media/"+firstKey, h.svc.PictureURL(first))

	second, err := h.svc.UploadPicture(ctx, ann, "second.png", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	secondKey := *second.ProfilePicture
	assert.NotEqual(t, firstKey, secondKey)
	assert.True(t, h.pictures.has(secondKey))
	assert.False(t, h.pictures.has(firstKey), "the previous object is removed")

	stored, err := h.svc.Get(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, secondKey, *stored.ProfilePicture)
}

func TestProfile_UploadValidation(t *testing.T) {
	h := newProfileHarness(t)
	ann := h.account(t, "ann@example.com", false)
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
		body     []byte
		msg      string
	}{
		{"extension", "me.exe", pngHeader, `file extension "exe" is not allowed`},
		{"empty", "me.png", nil, "the submitted file is empty"},
		{"too large", "me.png", append(append([]byte{}, pngHeader...), make([]byte, 1024)...), "file exceeds the maximum size of 1024 bytes"},
		{"not an image", "me.png", []byte("just some text"), "upload a valid image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.UploadPicture(ctx, ann, tt.filename, bytes.NewReader(tt.body))
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields["picture"], tt.msg)
		})
	}
	assert.Empty(t, h.pictures.objects)
}

func TestProfile_UploadStoreFailureKeepsRecord(t *testing.T) {
	h := newProfileHarness(t)
	ann := h.account(t, "ann@example.com", false)
	ctx := context.Background()

	first, err := h.svc.UploadPicture(ctx, ann, "me.png", bytes.NewReader(pngHeader))
	require.NoError(t, err)

	h.pictures.saveErr = errors.New("bucket unavailable")
	_, err = h.svc.UploadPicture(ctx, ann, "again.png", bytes.NewReader(pngHeader))
	require.Error(t, err)

	stored, err := h.svc.Get(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.ProfilePicture, *stored.ProfilePicture)
	assert.True(t, h.pictures.has(*first.ProfilePicture))
}

func TestProfile_UploadReadFailure(t *testing.T) {
	h := newProfileHarness(t)
	ann := h.account(t, "ann@example.com", false)

	_, err := h.svc.UploadPicture(context.Background(), ann, "me.png", failingReader{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrValidation)
}

func TestProfile_RemovePicture(t *testing.T) {
	h := newProfileHarness(t)
	ann := h.account(t, "ann@example.com", false)
	ctx := context.Background()

	got, err := h.svc.RemovePicture(ctx, ann)
	require.NoError(t, err)
	assert.Nil(t, got.ProfilePicture)
	assert.Empty(t, h.pictures.deleted)

	uploaded, err := h.svc.UploadPicture(ctx, ann, "me.gif", bytes.NewReader([]byte("GIF89a\x01\x00\x01\x00")))
	require.NoError(t, err)
	key := *uploaded.ProfilePicture

	got, err = h.svc.RemovePicture(ctx, ann)
	require.NoError(t, err)
	assert.Nil(t, got.ProfilePicture)
	assert.Empty(t, h.svc.PictureURL(got))
	assert.False(t, h.pictures.has(key))
}

func TestProfile_ListClampsPage(t *testing.T) {
	h := newProfileHarness(t)
	for i := range 12 {
		h.account(t, string(rune('a'+i))+"@example.com", false)
	}
	ctx := context.Background()

	page, total, err := h.svc.List(ctx, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Len(t, page, DefaultPageLimit)
	assert.Equal(t, "a@example.com", page[0].Email)

	page, _, err = h.svc.List(ctx, domain.Page{Limit: 1000, Offset: -5})
	require.NoError(t, err)
	assert.Len(t, page, 12)

	page, _, err = h.svc.List(ctx, domain.Page{Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "k@example.com", page[0].Email)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }
