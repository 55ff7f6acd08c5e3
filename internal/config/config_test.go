package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FACEBOOK_PAGE_ID", "1234")
	t.Setenv("FACEBOOK_USER_TOKEN", "token")
	t.Setenv("COIN_PROFILE_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Messenger != MessengerFacebook {
		t.Fatalf("expected facebook messenger, got %s", cfg.Messenger)
	}
	if cfg.StoreDriver != StoreRedis {
		t.Fatalf("expected redis store, got %s", cfg.StoreDriver)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.PollInterval)
	}
	if cfg.Coin.Code != "DOGE" || cfg.Coin.AddressLength != 34 || cfg.Coin.AddressPrefix != "D" {
		t.Fatalf("unexpected coin profile: %+v", cfg.Coin)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("FACEBOOK_PAGE_ID", "1234")
	t.Setenv("FACEBOOK_USER_TOKEN", "token")
	t.Setenv("POLL_INTERVAL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed POLL_INTERVAL")
	}
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("MESSENGER", "whatsapp")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadCoinProfileMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coin.yaml")
	content := "code: ltc\naddress_prefix: L\nknown_codes: [btc, ltc]\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	p, err := LoadCoinProfile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Code != "LTC" || p.AddressPrefix != "L" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.AddressLength != 34 || p.HistoryLimit != 75 {
		t.Fatalf("expected defaults to fill unset fields: %+v", p)
	}
	if len(p.KnownCodes) != 2 || p.KnownCodes[1] != "LTC" {
		t.Fatalf("unexpected known codes: %v", p.KnownCodes)
	}
}

func TestLoadCoinProfileRequiresSettlementCodeKnown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coin.yaml")
	if err := os.WriteFile(path, []byte("code: doge\nknown_codes: [btc]\n"), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if _, err := LoadCoinProfile(path); err == nil {
		t.Fatal("expected error when settlement code is not a known code")
	}
}
