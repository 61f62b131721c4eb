package analyzer

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

const (
	completionTemperature = 0.3
	completionMaxTokens   = 500
)

// CompletionClient invokes a text-completion model with a rendered prompt.
// strictJSON asks the provider to constrain output to a JSON object.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string, strictJSON bool) (string, error)
}

// OpenAIClient implements CompletionClient on the OpenAI chat API.
type OpenAIClient struct {
	client *openai.Client
	model  openai.ChatModel
	log    *logrus.Logger
}

// NewOpenAIClient creates a completion client for the given model.
func NewOpenAIClient(apiKey, model string, log *logrus.Logger) *OpenAIClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{
		client: &client,
		model:  openai.ChatModel(model),
		log:    log,
	}
}

// Complete sends the prompt as a single user message with fixed low
// temperature and a capped output length.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, strictJSON bool) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(completionTemperature),
		MaxTokens:   openai.Int(completionMaxTokens),
	}

	if strictJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return resp.Choices[0].Message.Content, nil
}
