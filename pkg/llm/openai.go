package llm

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAICompleter implements Completer over the OpenAI chat completions API
type OpenAICompleter struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAICompleter creates a new OpenAI completer. BaseURL allows any
// OpenAI-compatible endpoint.
func NewOpenAICompleter(options ProviderOptions) (*OpenAICompleter, error) {
	if options.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(options.APIKey)
	if options.BaseURL != "" {
		clientConfig.BaseURL = options.BaseURL
	}

	model := options.Model
	if model == "" {
		model = openai.GPT4o
	}

	return &OpenAICompleter{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     model,
		maxTokens: maxTokens(options.MaxTokens, 4096),
	}, nil
}

// Provider returns the provider name
func (c *OpenAICompleter) Provider() string { return ProviderOpenAI }

// Complete sends the system prompt and user prompt as one chat turn
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens(req.MaxTokens, c.maxTokens),
	})
	if err != nil {
		return Completion{}, errors.Wrap(err, "openai chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return Completion{}, ErrEmptyCompletion
	}

	choice := resp.Choices[0]
	return Completion{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		StopReason:   string(choice.FinishReason),
	}, nil
}
