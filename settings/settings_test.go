package settings

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdpdash/runner/storage"
)

func TestDefaultsWhenEmpty(t *testing.T) {
	svc := NewService(NewMemoryBackend(), nil)
	assert.Equal(t, Defaults(), svc.Current())
	assert.Equal(t, "", svc.Theme().Class)
	assert.Equal(t, "#0ea5e9", svc.Theme().Vars["--primary"])
}

func TestLoadFallsBackPerField(t *testing.T) {
	cases := map[string]struct {
		stored string
		want   Settings
	}{
		"corrupt": {
			stored: "{not json",
			want:   Defaults(),
		},
		"partial": {
			stored: `{"darkMode":true}`,
			want:   Settings{DarkMode: true, PrimaryColor: DefaultPrimaryColor, NotificationsEnabled: true},
		},
		"unknown color": {
			stored: `{"primaryColor":"#123456","notificationsEnabled":false}`,
			want:   Settings{PrimaryColor: DefaultPrimaryColor},
		},
		"wrong type": {
			stored: `{"darkMode":"yes","primaryColor":"#f43f5e","notificationsEnabled":false}`,
			want:   Settings{DarkMode: false, PrimaryColor: "#f43f5e", NotificationsEnabled: false},
		},
		"wrong type keeps true default": {
			stored: `{"darkMode":true,"notificationsEnabled":"off"}`,
			want:   Settings{DarkMode: true, PrimaryColor: DefaultPrimaryColor, NotificationsEnabled: true},
		},
		"null": {
			stored: `{"notificationsEnabled":null,"primaryColor":null}`,
			want:   Defaults(),
		},
		"complete": {
			stored: `{"darkMode":true,"primaryColor":"#f43f5e","notificationsEnabled":false}`,
			want:   Settings{DarkMode: true, PrimaryColor: "#f43f5e"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			backend := NewMemoryBackend()
			require.NoError(t, backend.PutPreference(StorageKey, tc.stored))
			assert.Equal(t, tc.want, NewService(backend, nil).Current())
		})
	}
}

func TestSettersPersistAndPublish(t *testing.T) {
	backend := NewMemoryBackend()
	svc := NewService(backend, nil)
	defer svc.Close()

	ch, cancel := svc.Subscribe()
	defer cancel()
	<-ch

	require.NoError(t, svc.SetDarkMode(true))
	got := <-ch
	assert.True(t, got.DarkMode)
	assert.Equal(t, DarkModeClass, svc.Theme().Class)
	assert.Equal(t, "#111827", svc.Theme().Vars["--bg"])

	require.NoError(t, svc.SetNotificationsEnabled(false))
	assert.False(t, (<-ch).NotificationsEnabled)

	raw, ok, err := backend.GetPreference(StorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"darkMode":true,"primaryColor":"#0ea5e9","notificationsEnabled":false}`, raw)
}

func TestSetPrimaryColorIdempotent(t *testing.T) {
	backend := NewMemoryBackend()
	svc := NewService(backend, nil)
	defer svc.Close()

	ch, cancel := svc.Subscribe()
	defer cancel()
	<-ch

	require.NoError(t, svc.SetPrimaryColor("#6366f1"))
	first := <-ch
	raw1, _, _ := backend.GetPreference(StorageKey)

	require.NoError(t, svc.SetPrimaryColor("#6366f1"))
	second := <-ch
	raw2, _, _ := backend.GetPreference(StorageKey)

	assert.Equal(t, raw1, raw2)
	assert.Equal(t, first, second)
	assert.Equal(t, "#6366f1", svc.Theme().Vars["--primary"])
	assert.Equal(t, "99, 102, 241", svc.Theme().Vars["--primary-rgb"])
}

func TestSetPrimaryColorByName(t *testing.T) {
	svc := NewService(NewMemoryBackend(), nil)
	require.NoError(t, svc.SetPrimaryColor("emerald"))
	assert.Equal(t, "#10b981", svc.Current().PrimaryColor)

	err := svc.SetPrimaryColor("#000000")
	assert.ErrorIs(t, err, ErrUnknownColor)
	assert.Equal(t, "#10b981", svc.Current().PrimaryColor)
}

type failingBackend struct{ *MemoryBackend }

func (failingBackend) PutPreference(string, string) error { return errors.New("disk full") }

func TestPersistFailureLeavesState(t *testing.T) {
	svc := NewService(failingBackend{NewMemoryBackend()}, nil)
	err := svc.SetDarkMode(true)
	require.Error(t, err)
	assert.False(t, svc.Current().DarkMode)
}

func TestDeriveThemeIsPure(t *testing.T) {
	s := Settings{DarkMode: true, PrimaryColor: "#14b8a6"}
	assert.Equal(t, DeriveTheme(s), DeriveTheme(s))

	svc := NewService(NewMemoryBackend(), nil)
	assert.Equal(t, svc.ApplyTheme(), svc.ApplyTheme())

	styles := DeriveTheme(s).Styles()
	assert.NotEmpty(t, styles.Title.Render("x"))
}

func TestSQLiteBackend(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "sdp.db"))
	require.NoError(t, err)
	defer store.Close()

	svc := NewService(store, nil)
	require.NoError(t, svc.SetPrimaryColor("Violet"))
	require.NoError(t, svc.SetDarkMode(true))

	reloaded := NewService(store, nil)
	assert.Equal(t, Settings{DarkMode: true, PrimaryColor: "#8b5cf6", NotificationsEnabled: true}, reloaded.Current())
}

func TestColorOptions(t *testing.T) {
	opts := ColorOptions()
	require.Len(t, opts, 8)
	assert.Equal(t, "Sky Blue", opts[0].Name)
	opts[0].Name = "changed"
	assert.Equal(t, "Sky Blue", ColorOptions()[0].Name)
}
