package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"crm-automation/internal/config"
)

const defaultMaxAttempts = 5

var retryAfterPattern = regexp.MustCompile(`Please retry in ([\d.]+)s`)

// promptEntry is one named prompt in the prompts file.
type promptEntry struct {
	Prompt string `yaml:"prompt"`
}

// Client generates text with the Gemini API using prompts from a registry
// file.
type Client struct {
	genai       *genai.Client
	model       string
	maxAttempts int
	prompts     map[string]promptEntry
	logger      *zap.Logger
}

// NewClient reads the API key from GEMINI_API_KEY and loads the prompt
// registry.
func NewClient(ctx context.Context, cfg config.GeminiConfig, logger *zap.Logger) (*Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	raw, err := os.ReadFile(cfg.PromptsFile)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read prompts: %w", err)
	}

	prompts := map[string]promptEntry{}
	if err := yaml.Unmarshal(raw, &prompts); err != nil {
		client.Close()
		return nil, fmt.Errorf("parse prompts: %w", err)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Client{
		genai:       client,
		model:       cfg.Model,
		maxAttempts: maxAttempts,
		prompts:     prompts,
		logger:      logger,
	}, nil
}

func (c *Client) Close() error {
	return c.genai.Close()
}

// Prompt returns a registered prompt template by name.
func (c *Client) Prompt(name string) (string, error) {
	entry, ok := c.prompts[name]
	if !ok || entry.Prompt == "" {
		return "", fmt.Errorf("no prompt %q", name)
	}
	return entry.Prompt, nil
}

// Generate asks the model for a completion, retrying on rate limits and
// temporary unavailability. A 429 reply carries its own retry delay, which is
// honored with an extra minute on top.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	model := c.genai.GenerativeModel(c.model)

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err == nil {
			text := responseText(resp)
			if text == "" {
				return "", fmt.Errorf("empty response from model")
			}
			return text, nil
		}
		lastErr = err

		pause, retry := retryPause(err, attempt, c.maxAttempts)
		if !retry {
			return "", fmt.Errorf("generate content: %w", err)
		}

		c.logger.Warn("Gemini request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("pause", pause),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pause):
		}
	}

	return "", fmt.Errorf("generate content after %d attempts: %w", c.maxAttempts, lastErr)
}

// GenerateJSON generates a completion and unmarshals the model's JSON answer
// into out.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, out any) error {
	text, err := c.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	return parseModelJSON(text, out)
}

func retryPause(err error, attempt, maxAttempts int) (time.Duration, bool) {
	message := err.Error()

	if strings.Contains(message, "429") {
		if match := retryAfterPattern.FindStringSubmatch(message); match != nil {
			if seconds, parseErr := strconv.ParseFloat(match[1], 64); parseErr == nil {
				return time.Duration((seconds + 60) * float64(time.Second)), true
			}
		}
		return time.Minute, true
	}

	if strings.Contains(message, "503") || attempt < maxAttempts-1 {
		pause := time.Second
		for i := 0; i < attempt; i++ {
			pause *= 3
		}
		return pause, true
	}

	return 0, false
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		break
	}
	return text.String()
}

// parseModelJSON strips markdown code fences and Python literals the model
// tends to emit before unmarshaling.
func parseModelJSON(text string, out any) error {
	cleaned := stripFences(strings.TrimSpace(text))

	replacer := strings.NewReplacer("None", "null", "True", "true", "False", "false")
	cleaned = replacer.Replace(cleaned)

	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("parse model json: %w", err)
	}
	return nil
}

func stripFences(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
