package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":8080"
store:
  driver: sql
database:
  dialect: postgres
  url: postgres://localhost/rental
redis:
  addr: localhost:6379
log:
  level: debug
  format: json
auth:
  jwt_secret: file-secret
cors:
  allowed_origins: ["http://localhost:3000"]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Database.Dialect != "postgres" || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.Auth.JWTSecret != "file-secret" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("JWT_SECRET", "env-secret")
	cfg, _ = LoadConfig(path)
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Fatal("JWT_SECRET must override the file")
	}
}

func TestLoadConfigDefaultsAndErrors(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "auth:\n  jwt_secret: s\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.Server.Address != ":4001" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	for name, body := range map[string]string{
		"unknown driver": "store:\n  driver: cassandra\nauth:\n  jwt_secret: s\n",
		"sql without dsn": "store:\n  driver: sql\nauth:\n  jwt_secret: s\n",
		"no secret":       "store:\n  driver: memory\n",
	} {
		if _, err := LoadConfig(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
