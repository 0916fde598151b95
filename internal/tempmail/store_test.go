package tempmail

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailhook/internal/mail"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "session.json"))
	require.NoError(t, err)
	return store
}

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	addr := testAddress(t, mail.KindMailTm)
	msgs := []mail.Message{{ID: "m1", Subject: "hello", Attachments: []mail.Attachment{}}}

	require.NoError(t, store.Save(State{Address: &addr, Messages: msgs}))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	st, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, st.Address)
	assert.Equal(t, addr.Address, st.Address.Address)
	assert.Equal(t, addr.Token, st.Address.Token)
	assert.Equal(t, mail.KindMailTm, st.Address.Provider)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "hello", st.Messages[0].Subject)
	assert.False(t, st.SavedAt.IsZero())
}

func TestFileStore_MissingFile(t *testing.T) {
	t.Parallel()

	st, err := newTestStore(t).Load()
	require.NoError(t, err)
	assert.Nil(t, st.Address)
}

func TestFileStore_DiscardsExpiredAddress(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	addr, err := mail.NewAddress("old@example.com", mail.KindFallback, time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Save(State{Address: &addr}))

	st, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, st.Address)
	assert.NoFileExists(t, store.Path())
}

func TestFileStore_DiscardsCorruptFile(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o700))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o600))

	st, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, st.Address)
	assert.NoFileExists(t, store.Path())
}

func TestFileStore_ClearMissingFile(t *testing.T) {
	t.Parallel()
	assert.NoError(t, newTestStore(t).Clear())
}

func TestNewFileStore_EmptyPath(t *testing.T) {
	t.Parallel()
	_, err := NewFileStore("")
	assert.Error(t, err)
}

func TestDefaultSessionPath(t *testing.T) {
	t.Parallel()
	assert.True(t, strings.HasSuffix(DefaultSessionPath(), filepath.Join(".tempmail", "session.json")))
}
