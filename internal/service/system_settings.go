package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"rafflemarkets/internal/models"
	"rafflemarkets/internal/repository"
)

const (
	SwitchWatcher    = "watcher_enabled"
	SwitchAutoCreate = "auto_create_enabled"
	SwitchTrading    = "trading_enabled"
	SwitchStream     = "stream_enabled"
)

var defaultSwitches = []struct {
	key         string
	enabled     bool
	description string
}{
	{SwitchWatcher, true, "chain watcher polling"},
	{SwitchAutoCreate, true, "threshold-triggered market creation"},
	{SwitchTrading, true, "maker buy/sell endpoints"},
	{SwitchStream, true, "SSE and websocket price streams"},
}

// SystemSettingsService reads and writes the DB-backed feature switches.
// These are operator kill switches: EnsureDefaultSwitches only creates
// missing rows and never flips a value an operator has set.
type SystemSettingsService struct {
	Repo repository.Repository
}

func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for _, sw := range defaultSwitches {
		existing, err := s.Repo.GetSystemSetting(ctx, sw.key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(sw.enabled)
		item := &models.SystemSetting{
			Key:         sw.key,
			Value:       datatypes.JSON(raw),
			Description: sw.description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSetting(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: describeSwitch(key),
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

// SetValue stores an arbitrary setting. Sensitive keys are sealed before
// they hit the table, so dumps and list endpoints never see the plaintext.
func (s *SystemSettingsService) SetValue(ctx context.Context, key string, value any, description string) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(ProtectSettingValue(key, raw)),
		Description: strings.TrimSpace(description),
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

// Value returns the decoded JSON value for key, opening sealed entries.
// When a sealed value still carries the previous encryption key, the row
// is refreshed under the current one on the way out.
func (s *SystemSettingsService) Value(ctx context.Context, key string) (json.RawMessage, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	item, err := s.Repo.GetSystemSetting(ctx, key)
	if err != nil {
		return nil, err
	}
	if item == nil || len(item.Value) == 0 {
		return nil, nil
	}
	if refreshed, changed := ReencryptSettingValue(key, item.Value); changed {
		update := *item
		update.Value = datatypes.JSON(refreshed)
		update.UpdatedAt = time.Now().UTC()
		// Refresh is opportunistic. The read still succeeds if it fails.
		_ = s.Repo.UpsertSystemSetting(ctx, &update)
	}
	return json.RawMessage(RevealSettingValue(key, item.Value)), nil
}

func (s *SystemSettingsService) List(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	return s.Repo.ListSystemSettings(ctx)
}

func describeSwitch(key string) string {
	for _, sw := range defaultSwitches {
		if sw.key == key {
			return sw.description
		}
	}
	return "feature switch"
}
