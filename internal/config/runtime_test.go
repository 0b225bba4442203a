package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/emooreatx/CIRISAgent-sub009/internal/config"
	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

func TestLoad_RuntimeDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("GOCLAW_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Runtime.AgentMode != "cli" {
		t.Fatalf("expected default agent_mode cli, got %q", cfg.Runtime.AgentMode)
	}
	if cfg.Runtime.Workflow.MaxActiveTasks != 10 {
		t.Fatalf("expected default max_active_tasks 10, got %d", cfg.Runtime.Workflow.MaxActiveTasks)
	}
	if cfg.Runtime.Workflow.MaxPonderRounds != 5 {
		t.Fatalf("expected default max_ponder_rounds 5, got %d", cfg.Runtime.Workflow.MaxPonderRounds)
	}
	if cfg.Runtime.Guardrails.EntropyThreshold != 0.15 {
		t.Fatalf("expected default entropy_threshold 0.15, got %v", cfg.Runtime.Guardrails.EntropyThreshold)
	}
	if cfg.Runtime.Scheduler.CheckIntervalSeconds != 60 {
		t.Fatalf("expected default scheduler check interval 60, got %d", cfg.Runtime.Scheduler.CheckIntervalSeconds)
	}
	if cfg.Runtime.Observer.PassiveContextLimit != 10 {
		t.Fatalf("expected default passive_context_limit 10, got %d", cfg.Runtime.Observer.PassiveContextLimit)
	}
}

func TestLoad_RuntimeFromConfigYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("GOCLAW_HOME", home)

	yamlContent := `
runtime:
  agent_mode: discord
  default_profile: analyst
  workflow:
    max_active_tasks: 25
    max_ponder_rounds: 3
  guardrails:
    entropy_threshold: 0.2
    coherence_threshold: 0.5
  agent_profiles:
    analyst:
      permitted_actions: [SPEAK, PONDER, DEFER]
      role: "read-only analyst"
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Runtime.AgentMode != "discord" {
		t.Fatalf("expected agent_mode discord, got %q", cfg.Runtime.AgentMode)
	}
	if cfg.Runtime.Workflow.MaxActiveTasks != 25 {
		t.Fatalf("expected max_active_tasks 25, got %d", cfg.Runtime.Workflow.MaxActiveTasks)
	}
	// Unset workflow fields still fall back to defaults.
	if cfg.Runtime.Workflow.RoundDelaySeconds != 1.0 {
		t.Fatalf("expected default round_delay_seconds 1.0, got %v", cfg.Runtime.Workflow.RoundDelaySeconds)
	}
	profile, ok := cfg.Runtime.AgentProfiles["analyst"]
	if !ok {
		t.Fatalf("expected analyst profile to be present")
	}
	if profile.Name != "analyst" {
		t.Fatalf("expected profile name populated from map key, got %q", profile.Name)
	}
	if len(profile.PermittedActions) != 3 || profile.PermittedActions[0] != model.ActionSpeak {
		t.Fatalf("unexpected permitted actions: %+v", profile.PermittedActions)
	}
}

func TestReloadRuntime_PicksUpGuardrailChange(t *testing.T) {
	home := t.TempDir()

	rt, err := config.ReloadRuntime(home)
	if err != nil {
		t.Fatalf("reload runtime (missing file): %v", err)
	}
	if rt.Guardrails.EntropyThreshold != 0.15 {
		t.Fatalf("expected default entropy_threshold, got %v", rt.Guardrails.EntropyThreshold)
	}

	yamlContent := "runtime:\n  guardrails:\n    entropy_threshold: 0.4\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	rt, err = config.ReloadRuntime(home)
	if err != nil {
		t.Fatalf("reload runtime: %v", err)
	}
	if rt.Guardrails.EntropyThreshold != 0.4 {
		t.Fatalf("expected reloaded entropy_threshold 0.4, got %v", rt.Guardrails.EntropyThreshold)
	}
}

func TestApplyEnvOverrides_RuntimeFields(t *testing.T) {
	home := t.TempDir()
	t.Setenv("GOCLAW_HOME", home)
	t.Setenv("GOCLAW_AGENT_MODE", "api")
	t.Setenv("GOCLAW_MAX_PONDER_ROUNDS", "9")
	t.Setenv("CIRISNODE_BASE_URL", "https://node.example.com")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Runtime.AgentMode != "api" {
		t.Fatalf("expected agent_mode override api, got %q", cfg.Runtime.AgentMode)
	}
	if cfg.Runtime.Workflow.MaxPonderRounds != 9 {
		t.Fatalf("expected max_ponder_rounds override 9, got %d", cfg.Runtime.Workflow.MaxPonderRounds)
	}
	if cfg.Runtime.CIRISNode.BaseURL != "https://node.example.com" {
		t.Fatalf("expected cirisnode base_url override, got %q", cfg.Runtime.CIRISNode.BaseURL)
	}
}
