// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9090"

database:
  path: "./test.db"

auth:
  jwt_secret: "super-secret"

agent:
  base_url: "http://localhost:8000"
  app_name: "skill_consultant"
  agent_name: "SkillConsultantAgent"
  timeout: "45s"

conversation:
  empty_reply_notice: "One moment."

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("HTTPAddr = %q, want 0.0.0.0:9090", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want ./test.db", cfg.Database.Path)
	}
	if cfg.Auth.JWTSecret != "super-secret" {
		t.Errorf("JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Agent.Timeout != 45*time.Second {
		t.Errorf("Agent.Timeout = %v, want 45s", cfg.Agent.Timeout)
	}
	if cfg.Conversation.EmptyReplyNotice != "One moment." {
		t.Errorf("EmptyReplyNotice = %q", cfg.Conversation.EmptyReplyNotice)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "./test.db"
auth:
  jwt_secret: "secret"
agent:
  base_url: "http://localhost:8000"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("default HTTPAddr = %q, want :8080", cfg.Server.HTTPAddr)
	}
	if cfg.Agent.AppName != "skill_consultant" {
		t.Errorf("default AppName = %q", cfg.Agent.AppName)
	}
	if cfg.Agent.AgentName != "SkillConsultantAgent" {
		t.Errorf("default AgentName = %q", cfg.Agent.AgentName)
	}
	if cfg.Agent.Timeout != 0 {
		t.Errorf("unset timeout should stay zero, got %v", cfg.Agent.Timeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("default Logging = %+v", cfg.Logging)
	}
	if cfg.Conversation.EmptyReplyNotice != "" {
		t.Errorf("default EmptyReplyNotice should be empty, got %q", cfg.Conversation.EmptyReplyNotice)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CONSULT_SECRET", "expanded-secret")

	path := writeConfig(t, `
database:
  path: "./test.db"
auth:
  jwt_secret: ${TEST_CONSULT_SECRET}
agent:
  base_url: "http://localhost:8000"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "expanded-secret" {
		t.Errorf("JWTSecret = %q, want expanded-secret", cfg.Auth.JWTSecret)
	}
}

func TestLoad_UnsetEnvVarFailsValidation(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "./test.db"
auth:
  jwt_secret: ${CONSULT_DEFINITELY_UNSET_VAR}
agent:
  base_url: "http://localhost:8000"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for empty secret")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("error should name jwt_secret: %v", err)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing database path",
			content: `
auth:
  jwt_secret: "secret"
agent:
  base_url: "http://localhost:8000"
`,
			wantErr: "database.path",
		},
		{
			name: "missing agent base url",
			content: `
database:
  path: "./test.db"
auth:
  jwt_secret: "secret"
`,
			wantErr: "agent.base_url",
		},
		{
			name: "bad logging level",
			content: `
database:
  path: "./test.db"
auth:
  jwt_secret: "secret"
agent:
  base_url: "http://localhost:8000"
logging:
  level: "verbose"
`,
			wantErr: "logging.level",
		},
		{
			name: "bad timeout",
			content: `
database:
  path: "./test.db"
auth:
  jwt_secret: "secret"
agent:
  base_url: "http://localhost:8000"
  timeout: "soon"
`,
			wantErr: "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("CONSULT_CONFIG", "")
	if got := DefaultPath(); got != "config.yaml" {
		t.Errorf("DefaultPath = %q, want config.yaml", got)
	}

	t.Setenv("CONSULT_CONFIG", "/etc/consult/gateway.yaml")
	if got := DefaultPath(); got != "/etc/consult/gateway.yaml" {
		t.Errorf("DefaultPath = %q", got)
	}
}
