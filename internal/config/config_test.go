package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":5000" || cfg.DatabaseType != "sqlite" || cfg.DatabaseURL != ":memory:" {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
	if cfg.StatusRefreshInterval != 30*time.Second || cfg.PresenceInterval != 5*time.Minute {
		t.Errorf("Unexpected intervals %s/%s", cfg.StatusRefreshInterval, cfg.PresenceInterval)
	}
	if cfg.VerificationTimeout != time.Minute || cfg.DispatchWorkers != 8 {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("HTTP_ADDR", ":8081")
	t.Setenv("STAFF_ROLE_IDS", "111,222")
	t.Setenv("PRESENCE_INTERVAL", "90s")
	t.Setenv("TRANSPORT_RATE_LIMIT", "2.5")
	t.Setenv("DISPATCH_WORKERS", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("Expected :8081, got %s", cfg.HTTPAddr)
	}
	if len(cfg.StaffRoleIDs) != 2 || cfg.StaffRoleIDs[1] != "222" {
		t.Errorf("Expected two staff roles, got %v", cfg.StaffRoleIDs)
	}
	if cfg.PresenceInterval != 90*time.Second {
		t.Errorf("Expected 90s, got %s", cfg.PresenceInterval)
	}
	if cfg.TransportRateLimit != 2.5 || cfg.DispatchWorkers != 3 {
		t.Errorf("Unexpected numeric values %+v", cfg)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "DISCORD_BOT_TOKEN") {
		t.Errorf("Expected missing token error, got %v", err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("DISPATCH_WORKERS", "0")
	if _, err := Load(""); err == nil {
		t.Error("Expected error for zero workers")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("BOT_OWNER_ID=owner-from-file\nVERIFIED_ROLE_ID=role-1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	// registered with t.Setenv so the values loaded from the file are cleared afterwards
	t.Setenv("BOT_OWNER_ID", "")
	os.Unsetenv("BOT_OWNER_ID")
	t.Setenv("VERIFIED_ROLE_ID", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BotOwnerID != "owner-from-file" {
		t.Errorf("Expected owner from file, got %q", cfg.BotOwnerID)
	}
	if cfg.VerifiedRoleID != "from-env" {
		t.Errorf("Expected environment to win over file, got %q", cfg.VerifiedRoleID)
	}
}

func TestLoadMissingEnvFile(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Expected missing env file to be ignored, got %v", err)
	}
}
