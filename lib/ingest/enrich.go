package ingest

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fthsrlk/MovieApp-ML/models"
)

const enrichSystemPrompt = "You are a film catalog assistant. Given a " +
	"movie or TV show title and synopsis, reply with two to four genre " +
	"names as a single comma-separated line. Use conventional genre " +
	"names such as Action, Drama, Comedy, Science Fiction. Reply with " +
	"the genre line only."

// Enricher fills in missing genre tags for catalog records that arrived
// from sources without genre metadata.
type Enricher struct {
	client *openai.Client
	logger *slog.Logger
}

func NewEnricher(apiKey string, logger *slog.Logger) *Enricher {
	return &Enricher{
		client: openai.NewClient(apiKey),
		logger: logger,
	}
}

// GenreTags asks the model for a comma-separated genre line.
func (e *Enricher) GenreTags(ctx context.Context, item models.Item) (string, error) {
	prompt := fmt.Sprintf("Title: %s\nType: %s\nSynopsis: %s", item.Title, item.ContentType, item.Overview)

	resp, err := e.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: openai.GPT3Dot5Turbo,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: enrichSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: 0.2,
			MaxTokens:   50,
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to get genre completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}

	line := strings.TrimSpace(resp.Choices[0].Message.Content)
	parts := strings.Split(line, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	if len(tags) == 0 {
		return "", fmt.Errorf("completion contained no genre tags")
	}

	e.logger.Debug("Enriched genres",
		slog.String("title", item.Title),
		slog.String("genres", strings.Join(tags, ",")))
	return strings.Join(tags, ","), nil
}
