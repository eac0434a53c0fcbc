package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("default port %q", cfg.Port)
	}
	if cfg.Env != "development" || !cfg.IsDevelopment() {
		t.Fatalf("default env %q", cfg.Env)
	}
	if cfg.StoreDriver != DriverSQLite {
		t.Fatalf("default store driver %q", cfg.StoreDriver)
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("expected no origins, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadParsesOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg := Load()
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("origins: %v", cfg.AllowedOrigins)
	}
	if cfg.AllowedOrigins[0] != "https://a.example" || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins not trimmed: %v", cfg.AllowedOrigins)
	}
}

func TestProductionRequiresResponderToken(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("STORE_DRIVER", DriverSQLite)
	t.Setenv("RESPONDER_TOKEN", "")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic without RESPONDER_TOKEN in production")
		}
	}()
	Load()
}

func TestProductionRequiresDriverURL(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("STORE_DRIVER", DriverPostgres)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RESPONDER_TOKEN", "token")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic without DATABASE_URL for postgres")
		}
	}()
	Load()
}
