package config

import (
	"testing"
	"time"
)

func TestResearchNormalize(t *testing.T) {
	cfg := ResearchConfig{
		MaxRunningTasks:     0,
		MaxConcurrentAgents: -1,
		AgentTimeout:        0,
		MaxRetries:          -3,
		RetryBackoff:        0,
		QualityThreshold:    150,
	}

	norm := cfg.Normalize()
	if norm.MaxRunningTasks != 4 {
		t.Fatalf("expected max running tasks default 4, got %d", norm.MaxRunningTasks)
	}
	if norm.MaxConcurrentAgents != 4 {
		t.Fatalf("expected max concurrent agents default 4, got %d", norm.MaxConcurrentAgents)
	}
	if norm.AgentTimeout != 60*time.Second {
		t.Fatalf("expected agent timeout default 60s, got %s", norm.AgentTimeout)
	}
	if norm.MaxRetries != 0 {
		t.Fatalf("expected negative retries to clamp to 0, got %d", norm.MaxRetries)
	}
	if norm.RetryBackoff != 500*time.Millisecond {
		t.Fatalf("expected retry backoff default 500ms, got %s", norm.RetryBackoff)
	}
	if norm.QualityThreshold != 85 {
		t.Fatalf("expected out-of-range threshold to reset to 85, got %d", norm.QualityThreshold)
	}

	set := ResearchConfig{MaxRunningTasks: 2, MaxConcurrentAgents: 8, AgentTimeout: time.Second, MaxRetries: 1, RetryBackoff: time.Second, QualityThreshold: 70}
	if got := set.Normalize(); got != set {
		t.Fatalf("expected configured values to survive normalization, got %+v", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	url := PostgresConfig{URL: "postgres://u:p@db:5432/research"}
	if got := url.DSN(); got != "postgres://u:p@db:5432/research" {
		t.Fatalf("expected explicit url to win, got %q", got)
	}

	fields := PostgresConfig{User: "u", Password: "p", DBName: "research"}
	want := "postgres://u:p@localhost:5432/research?sslmode=disable"
	if got := fields.DSN(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPostgresValidate(t *testing.T) {
	if err := (PostgresConfig{URL: "postgres://u:p@db/x"}).Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if err := (PostgresConfig{Host: "db"}).Validate(); err == nil {
		t.Fatalf("expected validation error for missing dbname")
	}
	if err := (PostgresConfig{DBName: "x"}).Validate(); err == nil {
		t.Fatalf("expected validation error for missing host")
	}
}

func TestRedisAddr(t *testing.T) {
	cfg := RedisConfig{Host: "cache", Port: "6380"}
	if got := cfg.Addr(); got != "cache:6380" {
		t.Fatalf("expected cache:6380, got %q", got)
	}
	if err := (RedisConfig{Host: "cache"}).Validate(); err == nil {
		t.Fatalf("expected validation error for missing port")
	}
}
