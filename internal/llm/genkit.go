package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// Config selects and configures one LLM provider for a GenkitService.
type Config struct {
	Provider string // "anthropic", "openai", "openai_compatible", "openrouter", "google"
	Model    string
	APIKey   string

	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// GenkitService is the Service implementation backed by Genkit, one plugin
// per configured provider — the multi-provider pattern this runtime's
// lineage uses for its own Brain abstraction.
type GenkitService struct {
	g         *genkit.Genkit
	modelName string
	llmOn     bool
	validator *StructuredValidator
}

// NewGenkitService initializes Genkit with the configured provider. If no
// API key is available the service still exists but CallStructured returns
// an error — callers (DMA retries, failover) treat this as a normal failure.
func NewGenkitService(ctx context.Context, cfg Config) *GenkitService {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	modelID := strings.TrimSpace(cfg.Model)
	if modelID == "" {
		modelID = defaultModelForProvider(provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)

	var g *genkit.Genkit
	llmOn := false
	modelName := modelID

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{APIKey: apiKey, BaseURL: os.Getenv("ANTHROPIC_BASE_URL")}))
			llmOn = true
		}
	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{Provider: "openai", APIKey: apiKey, BaseURL: os.Getenv("OPENAI_BASE_URL")}))
			llmOn = true
		}
	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{Provider: cfg.OpenAICompatibleProvider, APIKey: apiKey, BaseURL: cfg.OpenAICompatibleBaseURL}))
			llmOn = true
		}
	case "openrouter":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{Provider: "openrouter", APIKey: apiKey, BaseURL: "https://openrouter.ai/api/v1"}))
			llmOn = true
		}
	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}), genkit.WithDefaultModel("googleai/"+modelID))
			modelName = "googleai/" + modelID
			llmOn = true
		}
	default:
		slog.Warn("llm: unknown provider, no calls will succeed", "provider", provider)
	}

	if g == nil {
		g = genkit.Init(ctx)
	}
	if !llmOn {
		slog.Warn("llm: no API key configured for provider, calls will fail closed", "provider", provider)
	}

	return &GenkitService{g: g, modelName: modelName, llmOn: llmOn, validator: NewStructuredValidator()}
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "openai", "openai_compatible", "openrouter":
		return "gpt-4o-mini"
	default:
		return "gemini-2.5-flash"
	}
}

// CallStructured implements Service: generate a response constrained to
// SchemaJSON, validating and retrying the way ValidateAndRetry does.
func (g *GenkitService) CallStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	if !g.llmOn {
		return nil, fmt.Errorf("llm: no provider configured")
	}

	var system, prompt string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = joinNonEmpty(system, m.Content)
		default:
			prompt = joinNonEmpty(prompt, m.Content)
		}
	}
	system = joinNonEmpty(system, schemaInstruction(req.SchemaName, req.SchemaJSON))

	opts := []ai.GenerateOption{
		ai.WithModelName(g.modelName),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, ai.WithConfig(&ai.GenerationCommonConfig{MaxOutputTokens: req.MaxTokens, Temperature: req.Temperature}))
	}

	resp, err := genkit.Generate(ctx, g.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("genkit generate: %w", err)
	}
	raw := resp.Text()

	extracted, verr := g.validator.ValidateResponse(raw, req.SchemaJSON)
	if verr != nil {
		return nil, fmt.Errorf("structured response failed schema validation: %w", verr)
	}

	usage := ResourceUsage{}
	if resp.Usage != nil {
		usage.PromptTokens = resp.Usage.InputTokens
		usage.CompletionTokens = resp.Usage.OutputTokens
	}
	return &StructuredResponse{RawJSON: extracted, Usage: usage}, nil
}

func schemaInstruction(name, schemaJSON string) string {
	if schemaJSON == "" {
		return ""
	}
	return fmt.Sprintf("Respond with a single JSON object named %q matching this JSON Schema, and nothing else:\n%s", name, schemaJSON)
}

func joinNonEmpty(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}
