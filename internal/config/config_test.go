package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaultsToAdminDevice(t *testing.T) {
	t.Setenv("DEVICE_ROLE", "")

	cfg := Load()
	if cfg.DeviceRole != "admin" {
		t.Fatalf("expected default role admin, got %q", cfg.DeviceRole)
	}
}

func TestLoadNormalizesDeviceRoleCase(t *testing.T) {
	t.Setenv("DEVICE_ROLE", "STAFF")
	t.Setenv("STAFF_ID", " staff-01 ")

	cfg := Load()
	if cfg.DeviceRole != "staff" {
		t.Fatalf("expected lowercased role, got %q", cfg.DeviceRole)
	}
	if cfg.StaffID != "staff-01" {
		t.Fatalf("expected trimmed staff id, got %q", cfg.StaffID)
	}
}

func TestLoadFallsBackOnBadTTL(t *testing.T) {
	t.Setenv("BALANCE_CACHE_TTL_SECONDS", "not-a-number")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")

	cfg := Load()
	if cfg.BalanceCacheTTLSeconds != 30 {
		t.Fatalf("expected fallback cache TTL 30, got %d", cfg.BalanceCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected fallback token TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
