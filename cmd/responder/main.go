// Command responder drains the pending handoff queue and posts
// assistant replies. With an OpenAI API key it answers with the model;
// without one it falls back to a canned echo so the relay can be
// exercised end to end locally.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Skipper-Assistant-1968/skipper-mobile/clients/go/skipper"
)

const (
	defaultServerURL    = "http://localhost:8080"
	defaultPollInterval = 2 * time.Second
	defaultModel        = openai.GPT4oMini
	historyContext      = 20 // messages of history sent as model context
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Str("component", "responder").
		Logger()

	serverURL := envOr("SKIPPER_SERVER_URL", defaultServerURL)
	client := skipper.NewClient(serverURL)
	client.Token = os.Getenv("RESPONDER_TOKEN")

	var ai *openai.Client
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		ai = openai.NewClient(key)
		logger.Info().Str("model", model()).Msg("model-backed responses enabled")
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set, using echo responses")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("server", serverURL).Msg("responder started")

	ticker := time.NewTicker(pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("responder stopped")
			return
		case <-ticker.C:
			if err := drainPending(ctx, logger, client, ai); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("drain failed")
			}
		}
	}
}

// drainPending answers every queued message, oldest first. Each reply
// names the message it answers, so the server removes the envelope
// exactly once even if this pass is interrupted and retried.
func drainPending(ctx context.Context, logger zerolog.Logger, client *skipper.Client, ai *openai.Client) error {
	pending, err := client.Pending(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for _, env := range pending {
		reply, err := compose(ctx, client, ai, env.Message)
		if err != nil {
			logger.Error().Err(err).Str("message_id", env.Message.ID).Msg("compose failed")
			continue
		}

		posted, err := client.Respond(ctx, reply, env.Message.ID)
		if err != nil {
			logger.Error().Err(err).Str("reply_to", env.Message.ID).Msg("respond failed")
			continue
		}
		logger.Info().
			Str("reply_to", env.Message.ID).
			Str("response_id", posted.ID).
			Msg("responded")
	}
	return nil
}

func compose(ctx context.Context, client *skipper.Client, ai *openai.Client, msg skipper.Message) (string, error) {
	if ai == nil {
		return "You said: " + msg.Content, nil
	}

	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: "You are Skipper, a concise personal assistant reached over a chat relay. Answer briefly.",
	}}

	// Recent history gives the model conversational context; the queued
	// message itself is already the last user turn in it.
	if hist, err := client.History(ctx, historyContext, "", ""); err == nil {
		for _, m := range hist.Messages {
			role := openai.ChatMessageRoleUser
			if m.Role == skipper.RoleAssistant {
				role = openai.ChatMessageRoleAssistant
			}
			messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
		}
	} else {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: msg.Content,
		})
	}

	resp, err := ai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model(),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func model() string {
	return envOr("OPENAI_MODEL", defaultModel)
}

func pollInterval() time.Duration {
	if raw := os.Getenv("RESPONDER_POLL_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return defaultPollInterval
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
