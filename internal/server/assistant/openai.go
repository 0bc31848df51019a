package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophchat/internal/common"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI uses the chat completions API of any OpenAI-compatible server.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI builds a backend. An empty baseURL means api.openai.com.
func NewOpenAI(baseURL, model, apiKey string) (*OpenAI, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("openai backend requires a model")
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}

	return &OpenAI{client: openai.NewClient(opts...), model: model}, nil
}

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %w", common.ErrCollaboratorFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai: no choices", common.ErrCollaboratorFailed)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
