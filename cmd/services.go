package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/lens-cleaner/internal/ai"
	"github.com/kozaktomas/lens-cleaner/internal/batch"
	"github.com/kozaktomas/lens-cleaner/internal/config"
	"github.com/kozaktomas/lens-cleaner/internal/database"
)

// newBatchService creates the configured batch provider and resolves the
// model it should run.
func newBatchService(ctx context.Context, cfg *config.Config) (ai.BatchService, string, error) {
	switch cfg.Batch.Provider {
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, "", fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
		service, err := ai.NewGeminiService(ctx, cfg.Gemini.APIKey)
		if err != nil {
			return nil, "", fmt.Errorf("creating Gemini service: %w", err)
		}
		return service, cfg.Gemini.Model, nil
	case "openai":
		if cfg.OpenAI.Token == "" {
			return nil, "", fmt.Errorf("OPENAI_TOKEN environment variable is required")
		}
		return ai.NewOpenAIService(cfg.OpenAI.Token), cfg.OpenAI.Model, nil
	default:
		return nil, "", fmt.Errorf("unknown batch provider %q, want gemini or openai", cfg.Batch.Provider)
	}
}

// newOrchestrator wires the batch pipeline: provider, request builder and
// reconciler, configured from the model catalog.
func newOrchestrator(ctx context.Context, cfg *config.Config, repo database.Repository,
	opts ...batch.OrchestratorOption) (*batch.Orchestrator, error) {
	service, model, err := newBatchService(ctx, cfg)
	if err != nil {
		return nil, err
	}

	spec := cfg.GetModelSpec(model)
	if !spec.Batch {
		return nil, fmt.Errorf("model %s does not support batch processing", model)
	}

	format := batch.FormatGemini
	if cfg.Batch.Provider == "openai" {
		format = batch.FormatOpenAI
	}

	builder := batch.NewBuilder(format, model,
		batch.WithMaxGroupSize(cfg.Batch.MaxGroupSize),
		batch.WithGenerationLimits(spec.Temperature, spec.MaxOutputTokens),
	)

	opts = append(opts, batch.WithPollInterval(cfg.Batch.PollInterval))
	return batch.NewOrchestrator(repo, service, builder, model, opts...), nil
}
