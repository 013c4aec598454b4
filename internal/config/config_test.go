package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadMergesFileEnvAndDefaults(t *testing.T) {
	dir := t.TempDir()
	env := "JWT_SECRET=from-file\nQUERY_TIMEOUT=3s\nDATABASE_REPLICA_URLS=postgres://r1, postgres://r2,,\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("RATE_LIMIT_MESSAGES", "5")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.JWTSecret != "from-env" {
		t.Errorf("environment should win over .env, got %q", cfg.JWTSecret)
	}
	if cfg.QueryTimeout != 3*time.Second {
		t.Errorf("QueryTimeout = %s", cfg.QueryTimeout)
	}
	if cfg.RateLimitMessages != 5 {
		t.Errorf("RateLimitMessages = %d", cfg.RateLimitMessages)
	}
	if cfg.AppPort != ":8080" || cfg.JWTTTL != 168*time.Hour || cfg.MinioBucket != "chat-media" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if got := cfg.ReplicaURLs(); !reflect.DeepEqual(got, []string{"postgres://r1", "postgres://r2"}) {
		t.Errorf("ReplicaURLs = %v", got)
	}
	if got := cfg.KafkaBrokerList(); !reflect.DeepEqual(got, []string{"localhost:9092"}) {
		t.Errorf("KafkaBrokerList = %v", got)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AppEnv != "production" || cfg.ReplicaURLs() != nil {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
