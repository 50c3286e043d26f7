// Package caption describes frame images with a local vision model. The
// embedding client uses it to turn a frame into text before embedding, so
// frame vectors and query vectors share one text-embedding space.
package caption

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"
)

const systemPrompt = "You are a driving-footage analyst. Describe the road scene " +
	"in one detailed paragraph: vehicles, pedestrians, cyclists, signs, signals, " +
	"lane markings, weather and lighting. Mention only what is visible."

const userPrompt = "Describe this dashcam frame. Be specific about every " +
	"road user, sign and signal in view."

// Agent captions frames through an ollama-hosted vision model.
type Agent struct {
	agent *agent.DefaultAgent
}

// Config locates the ollama instance and names the vision model.
type Config struct {
	BaseURL string
	Port    int
	Model   string
}

func NewAgent(ctx context.Context, cfg Config, logger *slog.Logger) (*Agent, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 11434
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2-vision:11b"
	}

	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: cfg.BaseURL,
		Port:    cfg.Port,
	})
	provider.UseModel(ctx, &types.Model{ID: cfg.Model})

	a := agent.NewAgent(&agent.NewAgentConfig{
		Provider:     provider,
		Logger:       logger,
		SystemPrompt: systemPrompt,
	})

	return &Agent{agent: a}, nil
}

// Caption returns the model's description of one frame image.
func (a *Agent) Caption(ctx context.Context, imagePath string) (string, error) {
	response := a.agent.Run(
		ctx,
		agent.WithInput(userPrompt),
		agent.WithImagePath(imagePath),
	)
	if response.Err != nil {
		return "", response.Err
	}
	if len(response.Messages) == 0 {
		return "", fmt.Errorf("no response messages received from model")
	}
	return response.Messages[len(response.Messages)-1].Content, nil
}
