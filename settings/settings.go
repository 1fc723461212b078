// Package settings owns the persisted display preferences and the theme
// derived from them.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sdpdash/events"
	"sdpdash/logging"
)

// StorageKey is the preference key holding the serialized settings.
const StorageKey = "sdp-settings"

// DefaultPrimaryColor is Sky Blue.
const DefaultPrimaryColor = "#0ea5e9"

// ErrUnknownColor is returned for a color outside the palette.
var ErrUnknownColor = errors.New("unknown color")

// Settings are the user's display preferences.
type Settings struct {
	DarkMode             bool   `json:"darkMode"`
	PrimaryColor         string `json:"primaryColor"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

// Defaults returns the settings used before anything is stored.
func Defaults() Settings {
	return Settings{
		DarkMode:             false,
		PrimaryColor:         DefaultPrimaryColor,
		NotificationsEnabled: true,
	}
}

// Backend is a durable key/value store.
type Backend interface {
	GetPreference(key string) (string, bool, error)
	PutPreference(key, value string) error
}

// Service is the single owner of Settings. Every setter persists the whole
// object, republishes it, and re-applies the theme.
type Service struct {
	backend Backend
	logger  *zap.Logger

	mu       sync.Mutex
	settings *events.Topic[Settings]
	theme    *events.Topic[Theme]
}

// NewService loads settings from backend, falling back to defaults field by
// field when the stored value is missing or corrupt.
func NewService(backend Backend, logger *zap.Logger) *Service {
	logger = logging.OrNop(logger)
	current := load(backend, logger)
	return &Service{
		backend:  backend,
		logger:   logger,
		settings: events.NewTopic(current),
		theme:    events.NewTopic(DeriveTheme(current)),
	}
}

func load(backend Backend, logger *zap.Logger) Settings {
	s := Defaults()
	raw, ok, err := backend.GetPreference(StorageKey)
	if err != nil {
		logger.Warn("failed to read settings, using defaults", zap.Error(err))
		return s
	}
	if !ok {
		return s
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		logger.Warn("stored settings are corrupt, using defaults", zap.Error(err))
		return s
	}

	// Each field is decoded on its own so one bad value keeps its default
	// without discarding the rest.
	field := func(name string, dst any) bool {
		v, ok := fields[name]
		if !ok {
			return false
		}
		if err := json.Unmarshal(v, dst); err != nil {
			logger.Warn("stored setting is invalid, using default", zap.String("field", name), zap.Error(err))
			return false
		}
		return true
	}

	dark, notify, color := s.DarkMode, s.NotificationsEnabled, s.PrimaryColor
	if field("darkMode", &dark) {
		s.DarkMode = dark
	}
	if field("primaryColor", &color) {
		if c, ok := LookupColor(color); ok {
			s.PrimaryColor = c.Value
		}
	}
	if field("notificationsEnabled", &notify) {
		s.NotificationsEnabled = notify
	}
	return s
}

// Current returns a copy of the settings.
func (s *Service) Current() Settings {
	return s.settings.Value()
}

// Subscribe streams settings, starting with the current value.
func (s *Service) Subscribe() (<-chan Settings, func()) {
	return s.settings.Subscribe()
}

// SubscribeTheme streams the applied theme.
func (s *Service) SubscribeTheme() (<-chan Theme, func()) {
	return s.theme.Subscribe()
}

// Theme returns the last applied theme.
func (s *Service) Theme() Theme {
	return s.theme.Value()
}

// SetDarkMode toggles dark mode.
func (s *Service) SetDarkMode(on bool) error {
	return s.update(func(st *Settings) { st.DarkMode = on })
}

// SetPrimaryColor selects an accent color by hex value or palette name.
func (s *Service) SetPrimaryColor(color string) error {
	c, ok := LookupColor(color)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColor, color)
	}
	return s.update(func(st *Settings) { st.PrimaryColor = c.Value })
}

// SetNotificationsEnabled turns notification polling on or off.
func (s *Service) SetNotificationsEnabled(on bool) error {
	return s.update(func(st *Settings) { st.NotificationsEnabled = on })
}

// Replace overwrites every field at once. Used by the dashboard API.
func (s *Service) Replace(next Settings) error {
	c, ok := LookupColor(next.PrimaryColor)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColor, next.PrimaryColor)
	}
	next.PrimaryColor = c.Value
	return s.update(func(st *Settings) { *st = next })
}

// ApplyTheme re-derives the theme from the current settings and publishes it.
func (s *Service) ApplyTheme() Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyThemeLocked(s.settings.Value())
}

func (s *Service) applyThemeLocked(st Settings) Theme {
	theme := DeriveTheme(st)
	s.theme.Publish(theme)
	return theme
}

func (s *Service) update(mutate func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings.Value()
	mutate(&next)

	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.backend.PutPreference(StorageKey, string(raw)); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	s.settings.Publish(next)
	s.applyThemeLocked(next)
	s.logger.Debug("settings updated",
		zap.Bool("darkMode", next.DarkMode),
		zap.String("primaryColor", next.PrimaryColor),
		zap.Bool("notificationsEnabled", next.NotificationsEnabled))
	return nil
}

// Close ends all subscriptions.
func (s *Service) Close() {
	s.settings.Close()
	s.theme.Close()
}

// MemoryBackend is an in-process Backend.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (m *MemoryBackend) GetPreference(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryBackend) PutPreference(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
