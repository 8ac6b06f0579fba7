// Package report drafts bilingual market-analysis letters from scraped project
// records using an OpenAI chat model.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/metrics"
)

// Failure markers prefix the text returned instead of a report.
const (
	PrimaryFailurePrefix   = "エラー: レポート生成に失敗しました"
	SecondaryFailurePrefix = "Error: Failed to generate report"
)

// Defaults for the chat completion call.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.7
)

var errEmptyCompletion = errors.New("completion returned no choices")

// ChatClient is the subset of the OpenAI client the generator needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config controls model parameters and prompt selection.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float32
	// Enhanced switches the primary report to the consultant persona with the
	// extended six-part analysis.
	Enhanced  bool
	Signature string
}

// Generator implements kickstarter.ReportGenerator.
type Generator struct {
	client ChatClient
	cfg    Config
	logger *zap.Logger
}

// NewOpenAIClient builds a go-openai client. baseURL may be empty.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// New creates a Generator.
func New(client ChatClient, cfg Config, logger *zap.Logger) *Generator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, cfg: cfg, logger: logger}
}

// Generate drafts one report. It makes a single call with no retries; on
// failure it returns the variant's failure marker with the cause appended.
func (g *Generator) Generate(ctx context.Context, req kickstarter.ReportRequest) string {
	logger := g.logger.With(
		zap.String("variant", string(req.Variant)),
		zap.String("url", req.Record.SourceURL))

	text, err := g.complete(ctx, req)
	if err != nil {
		metrics.ObserveReport(string(req.Variant), "error")
		logger.Error("report generation failed", zap.Error(err))
		return FailureText(req.Variant, err)
	}
	metrics.ObserveReport(string(req.Variant), "ok")
	logger.Info("report generated", zap.Int("runes", len([]rune(text))))
	return text
}

func (g *Generator) complete(ctx context.Context, req kickstarter.ReportRequest) (string, error) {
	prompt, err := renderPrompt(req, g.cfg.Enhanced, g.cfg.Signature)
	if err != nil {
		return "", err
	}
	var messages []openai.ChatCompletionMessage
	if g.cfg.Enhanced && req.Variant != kickstarter.Secondary {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: personaJA,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    messages,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// FailureText renders the marker string returned in place of a report.
func FailureText(variant kickstarter.Language, err error) string {
	if variant == kickstarter.Secondary {
		return fmt.Sprintf("%s (%v)", SecondaryFailurePrefix, err)
	}
	return fmt.Sprintf("%s (%v)", PrimaryFailurePrefix, err)
}

// IsFailure reports whether text is a failure marker rather than a report.
func IsFailure(text string) bool {
	return strings.HasPrefix(text, PrimaryFailurePrefix) || strings.HasPrefix(text, SecondaryFailurePrefix)
}
