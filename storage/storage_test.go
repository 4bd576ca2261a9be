package storage_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"shift-booker/pkg/booker"
	"shift-booker/storage"
)

func newLocalStore(t *testing.T) (*storage.Store, string) {
	t.Helper()
	dir := t.TempDir()
	return storage.New(nil, "", dir, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

func TestLoadAccountsLegacyFallback(t *testing.T) {
	store, dir := newLocalStore(t)
	legacy := booker.Credentials{Username: " doc@example.com ", Secret: "pw"}

	accounts, err := store.LoadAccounts(t.Context(), legacy)
	require.NoError(t, err)
	require.Equal(t, []booker.Account{{Username: "doc@example.com", Secret: "pw", UseShared: true}}, accounts)

	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.AccountsKey), []byte("{not json"), 0o600))
	accounts, err = store.LoadAccounts(t.Context(), legacy)
	require.NoError(t, err)
	require.Len(t, accounts, 1, "unreadable account file falls back to legacy credentials")

	accounts, err = store.LoadAccounts(t.Context(), booker.Credentials{Username: "doc@example.com"})
	require.NoError(t, err)
	require.Empty(t, accounts)
}

func TestLoadAccountsPrefersStoredList(t *testing.T) {
	store, dir := newLocalStore(t)
	raw := `[{"username": "a@x.io", "password": "p", "use_shared": false, "room": "2761", "cooldown": 5,
	  "shifts": [{"date": "2025-12-01", "name": "Night"}]}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.AccountsKey), []byte(raw), 0o600))

	accounts, err := store.LoadAccounts(t.Context(), booker.Credentials{Username: "legacy", Secret: "x"})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "a@x.io", accounts[0].Username)
	require.Equal(t, booker.Seconds("5"), accounts[0].Cooldown)
}

func TestAccountBookRewritesDocument(t *testing.T) {
	store, dir := newLocalStore(t)
	ctx := t.Context()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	book, err := storage.OpenAccountBook(ctx, store, booker.Credentials{}, logger)
	require.NoError(t, err)
	require.Empty(t, book.List())

	_, err = book.Add(ctx, "first@example.com", "pw1", true)
	require.NoError(t, err)
	_, err = book.Add(ctx, "second@example.com", "pw2", true)
	require.NoError(t, err)
	_, err = book.Add(ctx, "  ", "pw", true)
	require.Error(t, err)

	targets := booker.TargetSet{{Date: "2025-12-01", Label: "Morning"}}
	require.NoError(t, book.Configure(ctx, 1, "2761", "15", targets))
	targets.Add("2025-12-02", "Night")

	var cfgErr *storage.ConfigError
	err = book.Configure(ctx, 0, "abc", "", nil)
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "1:fir***", cfgErr.Account)
	require.Len(t, cfgErr.Problems, 3)

	require.ErrorIs(t, book.SetShared(ctx, 7, false), storage.ErrNoSuchAccount)

	reopened, err := storage.OpenAccountBook(ctx, store, booker.Credentials{}, logger)
	require.NoError(t, err)
	got := reopened.List()
	require.Len(t, got, 2)
	require.True(t, got[0].UseShared)
	require.False(t, got[1].UseShared)
	require.Equal(t, "2761", got[1].Room)
	require.Equal(t, 1, got[1].Targets.Len(), "caller edits after Configure must not leak into the book")

	removed, err := book.Remove(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "first@example.com", removed.Username)
	require.NoError(t, book.SetShared(ctx, 0, true))

	data, err := os.ReadFile(filepath.Join(dir, storage.AccountsKey))
	require.NoError(t, err)
	require.Contains(t, string(data), `"second@example.com"`)
	require.NotContains(t, string(data), `"first@example.com"`)
	require.Contains(t, string(data), `"cooldown": 15`)

	info, err := os.Stat(filepath.Join(dir, storage.AccountsKey))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPresets(t *testing.T) {
	store, _ := newLocalStore(t)
	ctx := t.Context()

	presets, err := store.LoadPresets(ctx)
	require.NoError(t, err)
	require.Empty(t, presets)

	icu := booker.Preset{Room: "2761", Cooldown: "10"}
	require.NoError(t, store.SavePreset(ctx, "", "ICU", icu))
	require.Error(t, store.SavePreset(ctx, "", "Bad", booker.Preset{Room: "1", Cooldown: "ten"}))
	require.Error(t, store.SavePreset(ctx, "", " ", icu))

	icu.Targets = booker.TargetSet{{Date: "2025-12-01", Label: "Night"}}
	require.NoError(t, store.SavePreset(ctx, "ICU", "ICU nights", icu))

	presets, err = store.LoadPresets(ctx)
	require.NoError(t, err)
	require.Len(t, presets, 1)
	require.Equal(t, 1, presets["ICU nights"].Targets.Len())

	_, err = store.Preset(ctx, "ICU")
	require.ErrorIs(t, err, storage.ErrNoSuchPreset)

	require.NoError(t, store.DeletePreset(ctx, "ICU nights"))
	require.ErrorIs(t, store.DeletePreset(ctx, "ICU nights"), storage.ErrNoSuchPreset)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{storage.PresetsKey}, keys)
}
