// Package completion streams chat completions from an OpenAI-compatible endpoint.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/core"
	openai "github.com/sashabaranov/go-openai"
)

const defaultTimeout = 2 * time.Minute

// Config holds the parameters of a completion client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Client implements core.Completer on top of go-openai.
type Client struct {
	client *openai.Client
	cfg    Config
	log    *logger.Logger
}

// New creates a completion client. An empty BaseURL targets the public OpenAI API.
func New(cfg Config, log *logger.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		log:    log,
	}
}

// Stream requests a completion for turns and reports each content delta as it arrives.
// It returns the concatenated text.
func (c *Client) Stream(ctx context.Context, turns []core.Turn, onDelta func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    convertTurns(turns),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: opening stream: %w", core.ErrStreamError, err)
	}

	defer func() {
		closeErr := stream.Close()
		if closeErr != nil {
			c.log.Warn("Failed to close completion stream: %v", closeErr)
		}
	}()

	var builder strings.Builder

	for {
		response, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}

		if recvErr != nil {
			return builder.String(), fmt.Errorf("%w: %w", core.ErrStreamError, recvErr)
		}

		if len(response.Choices) == 0 {
			continue
		}

		chunk := response.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}

		builder.WriteString(chunk)

		if onDelta != nil {
			onDelta(chunk)
		}
	}

	final := builder.String()
	if strings.TrimSpace(final) == "" {
		return "", core.ErrEmptyCompletion
	}

	return final, nil
}

func convertTurns(turns []core.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns))

	for _, turn := range turns {
		role := openai.ChatMessageRoleUser

		switch turn.Role {
		case core.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case core.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case core.RoleUser:
		}

		out = append(out, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	return out
}
