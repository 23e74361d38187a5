package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"rafflemarkets/internal/models"
	"rafflemarkets/internal/repository"
)

type settingsStubRepo struct {
	repository.Repository

	rows map[string]*models.SystemSetting
}

func (s *settingsStubRepo) GetSystemSetting(ctx context.Context, key string) (*models.SystemSetting, error) {
	item, ok := s.rows[key]
	if !ok {
		return nil, nil
	}
	out := *item
	return &out, nil
}

func (s *settingsStubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	out := *item
	s.rows[item.Key] = &out
	return nil
}

func (s *settingsStubRepo) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	var items []models.SystemSetting
	for _, item := range s.rows {
		items = append(items, *item)
	}
	return items, nil
}

func TestEnsureDefaultSwitchesCreatesMissing(t *testing.T) {
	repo := &settingsStubRepo{rows: map[string]*models.SystemSetting{}}
	svc := &SystemSettingsService{Repo: repo}
	ctx := context.Background()

	if err := svc.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, key := range []string{SwitchWatcher, SwitchAutoCreate, SwitchTrading, SwitchStream} {
		if !svc.IsEnabled(ctx, key, false) {
			t.Fatalf("switch %s not enabled after defaults", key)
		}
	}
}

func TestEnsureDefaultSwitchesKeepsOperatorValue(t *testing.T) {
	repo := &settingsStubRepo{rows: map[string]*models.SystemSetting{}}
	svc := &SystemSettingsService{Repo: repo}
	ctx := context.Background()

	if err := svc.SetEnabled(ctx, SwitchTrading, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := svc.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if svc.IsEnabled(ctx, SwitchTrading, true) {
		t.Fatalf("defaults overrode an operator kill switch")
	}
}

func TestSetValueSealsSensitiveKeys(t *testing.T) {
	t.Setenv(settingsKeyEnv, "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	repo := &settingsStubRepo{rows: map[string]*models.SystemSetting{}}
	svc := &SystemSettingsService{Repo: repo}
	ctx := context.Background()

	if err := svc.SetValue(ctx, "alert.telegram_token", "123456:secret-bot", "bot token"); err != nil {
		t.Fatalf("set value: %v", err)
	}

	stored := repo.rows["alert.telegram_token"]
	if stored == nil {
		t.Fatalf("row not written")
	}
	var envelope sealedSettingValue
	if err := json.Unmarshal(stored.Value, &envelope); err != nil {
		t.Fatalf("stored value is not a sealed envelope: %s", stored.Value)
	}
	if envelope.Enc != "aes-gcm-v1" || envelope.Data == "" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if strings.Contains(string(stored.Value), "secret-bot") {
		t.Fatalf("plaintext leaked into the stored row")
	}

	raw, err := svc.Value(ctx, "alert.telegram_token")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		t.Fatalf("unmarshal revealed value: %v", err)
	}
	if token != "123456:secret-bot" {
		t.Fatalf("got=%q want=%q", token, "123456:secret-bot")
	}

	// A row already sealed under the current key is left alone on read.
	stable := string(repo.rows["alert.telegram_token"].Value)
	if _, err := svc.Value(ctx, "alert.telegram_token"); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if got := string(repo.rows["alert.telegram_token"].Value); got != stable {
		t.Fatalf("read rewrote a current-key row")
	}
}

func TestSetValueLeavesPlainKeysAlone(t *testing.T) {
	t.Setenv(settingsKeyEnv, "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	repo := &settingsStubRepo{rows: map[string]*models.SystemSetting{}}
	svc := &SystemSettingsService{Repo: repo}
	ctx := context.Background()

	if err := svc.SetValue(ctx, "display.banner", "settlement friday", "ui banner"); err != nil {
		t.Fatalf("set value: %v", err)
	}
	stored := repo.rows["display.banner"]
	if string(stored.Value) != `"settlement friday"` {
		t.Fatalf("plain key was transformed: %s", stored.Value)
	}
}

func TestValueRefreshesRotatedCiphertext(t *testing.T) {
	oldKey := "b2xkLWtleS1vbGQta2V5LW9sZC1rZXktb2xkLWtleS0="
	newKey := "bmV3LWtleS1uZXcta2V5LW5ldy1rZXktbmV3LWtleS0="
	t.Setenv(settingsKeyEnv, oldKey)
	repo := &settingsStubRepo{rows: map[string]*models.SystemSetting{}}
	svc := &SystemSettingsService{Repo: repo}
	ctx := context.Background()

	if err := svc.SetValue(ctx, "oracle.api_key", "k-123", ""); err != nil {
		t.Fatalf("set value: %v", err)
	}
	sealedUnderOld := string(repo.rows["oracle.api_key"].Value)

	// Rotate: the old key moves to the prev slot.
	t.Setenv(settingsKeyEnv, newKey)
	t.Setenv(settingsPrevKeyEnv, oldKey)

	raw, err := svc.Value(ctx, "oracle.api_key")
	if err != nil {
		t.Fatalf("value after rotation: %v", err)
	}
	var got string
	if err := json.Unmarshal(raw, &got); err != nil || got != "k-123" {
		t.Fatalf("got=%q err=%v want=%q", got, err, "k-123")
	}
	if string(repo.rows["oracle.api_key"].Value) == sealedUnderOld {
		t.Fatalf("row not refreshed under the new key")
	}

	// The refreshed row must open without the prev key.
	t.Setenv(settingsPrevKeyEnv, "")
	raw, err = svc.Value(ctx, "oracle.api_key")
	if err != nil {
		t.Fatalf("value after prev key removal: %v", err)
	}
	if err := json.Unmarshal(raw, &got); err != nil || got != "k-123" {
		t.Fatalf("got=%q err=%v want=%q", got, err, "k-123")
	}
}

func TestIsEnabledFallbacks(t *testing.T) {
	repo := &settingsStubRepo{rows: map[string]*models.SystemSetting{}}
	svc := &SystemSettingsService{Repo: repo}
	ctx := context.Background()

	if !svc.IsEnabled(ctx, "missing_key", true) {
		t.Fatalf("missing key ignored fallback true")
	}
	if svc.IsEnabled(ctx, "missing_key", false) {
		t.Fatalf("missing key ignored fallback false")
	}

	repo.rows["bad"] = &models.SystemSetting{Key: "bad", Value: []byte(`{"not":"bool"}`)}
	if !svc.IsEnabled(ctx, "bad", true) {
		t.Fatalf("malformed value ignored fallback")
	}

	var nilSvc *SystemSettingsService
	if !nilSvc.IsEnabled(ctx, SwitchTrading, true) {
		t.Fatalf("nil service ignored fallback")
	}
}
