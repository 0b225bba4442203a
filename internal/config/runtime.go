package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// WorkflowConfig is the `workflow.*` section of spec section 6.
type WorkflowConfig struct {
	MaxActiveTasks    int     `yaml:"max_active_tasks"`
	MaxActiveThoughts int     `yaml:"max_active_thoughts"`
	RoundDelaySeconds float64 `yaml:"round_delay_seconds"`
	MaxPonderRounds   int     `yaml:"max_ponder_rounds"`
}

// GuardrailsConfig is the `guardrails.*` section of spec section 6.
type GuardrailsConfig struct {
	EntropyThreshold   float64 `yaml:"entropy_threshold"`
	CoherenceThreshold float64 `yaml:"coherence_threshold"`
}

// SchedulerConfig is the `scheduler.*` section of spec section 6.
type SchedulerConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
}

// ObserverConfig is the `observer.*` section of spec section 6.
type ObserverConfig struct {
	PassiveContextLimit int `yaml:"passive_context_limit"`
}

// CIRISNodeConfig configures the external `cirisnode.base_url` endpoint.
type CIRISNodeConfig struct {
	BaseURL string `yaml:"base_url"`
}

// AgentProfile declares one named identity template: the set of actions it
// may select and its DMA prompt/kwargs overrides (spec section 6
// `agent_profiles`).
type AgentProfile struct {
	Name             string        `yaml:"-"`
	PermittedActions []model.Action `yaml:"permitted_actions"`
	DSDMAIdentifier  string        `yaml:"dsdma_identifier,omitempty"`
	DSDMAKwargs      map[string]string `yaml:"dsdma_kwargs,omitempty"`
	CSDMAPrompt      string        `yaml:"csdma_prompt,omitempty"`
	ASPDMAPrompt     string        `yaml:"aspdma_prompt,omitempty"`
	Role             string        `yaml:"role,omitempty"`
	Description      string        `yaml:"description,omitempty"`
}

// RuntimeConfig carries the agent-runtime fields of spec section 6 that sit
// alongside (not replacing) the teacher's process/tooling config above.
type RuntimeConfig struct {
	AgentMode      string                  `yaml:"agent_mode"`
	DefaultProfile string                  `yaml:"default_profile"`
	AgentProfiles  map[string]AgentProfile `yaml:"agent_profiles"`
	Workflow       WorkflowConfig          `yaml:"workflow"`
	Guardrails     GuardrailsConfig        `yaml:"guardrails"`
	Scheduler      SchedulerConfig         `yaml:"scheduler"`
	Observer       ObserverConfig          `yaml:"observer"`
	CIRISNode      CIRISNodeConfig         `yaml:"cirisnode"`
}

func defaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		AgentMode:      "cli",
		DefaultProfile: "default",
		Workflow: WorkflowConfig{
			MaxActiveTasks:    10,
			MaxActiveThoughts: 50,
			RoundDelaySeconds: 1.0,
			MaxPonderRounds:   5,
		},
		Guardrails: GuardrailsConfig{
			EntropyThreshold:   0.15,
			CoherenceThreshold: 0.35,
		},
		Scheduler: SchedulerConfig{CheckIntervalSeconds: 60},
		Observer:  ObserverConfig{PassiveContextLimit: 10},
	}
}

// applyRuntimeEnvOverrides applies the env-var conventions spec section 6
// names for the runtime section, isolated from the teacher's
// applyEnvOverrides per the same "reading env is isolated" rule.
func applyRuntimeEnvOverrides(cfg *RuntimeConfig) {
	if raw := os.Getenv("CIRISNODE_BASE_URL"); raw != "" {
		cfg.CIRISNode.BaseURL = raw
	}
	if raw := os.Getenv("GOCLAW_MAX_PONDER_ROUNDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Workflow.MaxPonderRounds = v
		}
	}
	if raw := os.Getenv("GOCLAW_AGENT_MODE"); raw != "" {
		cfg.AgentMode = raw
	}
}

// ReloadRuntime re-reads the `runtime:` section of config.yaml in homeDir,
// for a consumer reacting to a Watcher ReloadEvent on that file. Guardrail
// thresholds and agent_profiles take effect on the next round without a
// process restart; other Config fields are left to a full Load().
func ReloadRuntime(homeDir string) (RuntimeConfig, error) {
	rt := defaultRuntimeConfig()

	path := filepath.Join(homeDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rt, nil
		}
		return rt, fmt.Errorf("read config.yaml: %w", err)
	}

	var wrapper struct {
		Runtime RuntimeConfig `yaml:"runtime"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return rt, fmt.Errorf("parse config.yaml runtime section: %w", err)
	}
	rt = wrapper.Runtime
	applyRuntimeEnvOverrides(&rt)
	normalizeRuntime(&rt)
	return rt, nil
}
