package profile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/voicecart/internal/extract"
)

func fullProfile() map[extract.Field]string {
	return map[extract.Field]string{
		extract.FieldName:       "John Smith",
		extract.FieldEmail:      "john@gmail.com",
		extract.FieldAddress:    "123 Main Street Springfield",
		extract.FieldPhone:      "(555) 123-4567",
		extract.FieldCardName:   "John Smith",
		extract.FieldCardNumber: "4242 4242 4242 4242",
		extract.FieldExpiryDate: "09/29",
		extract.FieldCVV:        "123",
	}
}

func TestProfileFieldHelpers(t *testing.T) {
	var p Profile
	assert.False(t, p.Complete())
	assert.Equal(t, extract.Fields, p.Missing())

	p.Apply(map[extract.Field]string{extract.FieldName: "  Ada  ", extract.FieldEmail: ""})
	assert.Equal(t, "Ada", p.Value(extract.FieldName))
	assert.Equal(t, "", p.Email)
	assert.Equal(t, map[extract.Field]string{extract.FieldName: "Ada"}, p.Values())

	p.Apply(fullProfile())
	assert.True(t, p.Complete())
	assert.Empty(t, p.Missing())

	masked := p.Masked()
	assert.Equal(t, "**** 4242", masked.CardNumber)
	assert.Equal(t, "***", masked.CVV)
	assert.Equal(t, "4242 4242 4242 4242", p.CardNumber)
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)

	p, err := store.Update(ctx, "u1", map[extract.Field]string{extract.FieldName: "John Smith"})
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "John Smith", p.Name)
	assert.False(t, p.UpdatedAt.IsZero())

	_, err = store.Update(ctx, "u1", map[extract.Field]string{extract.FieldEmail: "john@gmail.com", extract.FieldName: ""})
	require.NoError(t, err)

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "John Smith", got.Name)
	assert.Equal(t, "john@gmail.com", got.Email)

	_, err = store.Update(ctx, "u2", fullProfile())
	require.NoError(t, err)
	other, err := store.Get(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, other.Complete())

	got, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.Complete())
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profiles.toml")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, store)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 1")
	assert.Contains(t, string(data), "john@gmail.com")

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Get(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, "09/29", got.ExpiryDate)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".profiles-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFileStoreRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 9\n"), 0o600))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = store.Get(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported profile file version")
}

func TestFileStoreHonoursCancelledContext(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "profiles.toml"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Update(ctx, "u1", fullProfile())
	require.ErrorIs(t, err, context.Canceled)
}

func TestUpsertStatementOnlyTouchesGivenFields(t *testing.T) {
	query, args := upsertStatement("u1", map[extract.Field]string{
		extract.FieldCVV:   "123",
		extract.FieldEmail: "a@b.co",
		extract.FieldName:  "  ",
	})
	assert.Equal(t, []any{"u1", "a@b.co", "123"}, args)
	assert.Contains(t, query, "(user_id, email, cvv) VALUES ($1, $2, $3)")
	assert.Contains(t, query, "email = EXCLUDED.email")
	assert.Contains(t, query, "cvv = EXCLUDED.cvv")
	assert.NotContains(t, query, "name = EXCLUDED.name")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(query), selectColumns))
}

func TestFieldWriterUpdatesStore(t *testing.T) {
	store := NewInMemoryStore()
	w := FieldWriter{Store: store, UserID: "u1"}
	require.NoError(t, w.WriteField(context.Background(), extract.FieldPhone, "(555) 123-4567"))

	got, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "(555) 123-4567", got.Phone)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, StoreConfig{})
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)

	s, err = NewStore(ctx, StoreConfig{Kind: "file", Path: filepath.Join(t.TempDir(), "p.toml")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = NewStore(ctx, StoreConfig{Kind: "postgres"})
	require.Error(t, err)

	_, err = NewStore(ctx, StoreConfig{Kind: "redis"})
	require.Error(t, err)
}
