// Package assistant produces the reply to each human message in a chat.
package assistant

import (
	"context"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// HistoryWindow is how many past exchanges are sent along with a question.
const HistoryWindow = 3

const systemPrompt = `The following is a conversation between a human and an AI.
The AI is a veteran IT engineer who answers questions so that newcomers can understand.
If the AI does not know the answer to a question, it honestly says "I don't know".`

const defaultTemperature float32 = 0.7

// Turn is one message of a chat's history.
type Turn struct {
	Origin  types.Origin
	Content string
}

type Assistant interface {
	Reply(ctx context.Context, history []Turn, input string) (string, error)
}

// Echo answers with the question itself. It is used when no model is
// configured.
type Echo struct{}

func (Echo) Reply(_ context.Context, _ []Turn, input string) (string, error) {
	return "echo: " + input, nil
}

// ChatModel answers through an eino chat model.
type ChatModel struct {
	model model.BaseChatModel
	log   zerolog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

func NewOpenAI(ctx context.Context, cfg OpenAIConfig, logger zerolog.Logger) (*ChatModel, error) {
	temperature := defaultTemperature
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create openai chat model")
	}

	return NewChatModel(cm, logger), nil
}

func NewChatModel(m model.BaseChatModel, logger zerolog.Logger) *ChatModel {
	return &ChatModel{
		model: m,
		log:   logger.With().Str("component", "assistant").Logger(),
	}
}

func (a *ChatModel) Reply(ctx context.Context, history []Turn, input string) (string, error) {
	prompt := BuildPrompt(history, input)
	a.log.Debug().Int("history", len(prompt)-2).Msg("generating reply")

	resp, err := a.model.Generate(ctx, prompt)
	if err != nil {
		return "", errors.Wrap(err, "generate reply")
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", errors.New("model returned an empty reply")
	}

	return resp.Content, nil
}

// BuildPrompt lays out the system prompt, the last HistoryWindow exchanges
// of history and the new question.
func BuildPrompt(history []Turn, input string) []*schema.Message {
	if n := 2 * HistoryWindow; len(history) > n {
		history = history[len(history)-n:]
	}

	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(systemPrompt))
	for _, t := range history {
		if t.Origin == types.OriginAssistant {
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
			continue
		}
		msgs = append(msgs, schema.UserMessage(t.Content))
	}

	return append(msgs, schema.UserMessage(input))
}
