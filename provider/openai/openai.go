// Package openai implements agent.LLMClient on the official OpenAI SDK.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"github.com/sweetpotato0/transcriptqa/agent"
	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/message"
)

// Config holds OpenAI provider configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// Provider implements the agent.LLMClient interface for OpenAI
type Provider struct {
	config Config
	client openaisdk.Client
}

// New creates a new OpenAI provider using the official SDK
func New(config Config) *Provider {
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{
		config: config,
		client: openaisdk.NewClient(options...),
	}
}

// Model returns the configured model identifier.
func (p *Provider) Model() string {
	return p.config.Model
}

// Chat implements agent.LLMClient
func (p *Provider) Chat(ctx context.Context, messages []*message.Message, tools []map[string]any) (*agent.ChatResult, error) {
	params := openaisdk.ChatCompletionNewParams{
		Messages: encodeMessages(messages),
		Model:    shared.ChatModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.config.MaxTokens)
	}
	if len(tools) > 0 {
		encoded, err := encodeTools(tools)
		if err != nil {
			return nil, err
		}
		params.Tools = encoded
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrLLMUnavailable, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", apperrors.ErrLLMUnavailable)
	}

	choice := completion.Choices[0]
	responseMsg := message.New(message.RoleAssistant, choice.Message.Content)
	if len(choice.Message.ToolCalls) > 0 {
		toolCalls := make([]message.ToolCall, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("%w: parse tool arguments: %v", apperrors.ErrLLMUnavailable, err)
			}
			toolCalls[i] = message.ToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: args,
			}
		}
		responseMsg.ToolCalls = toolCalls
	}

	return &agent.ChatResult{
		Message: responseMsg,
		Usage: agent.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
	}, nil
}

func encodeMessages(messages []*message.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			out = append(out, openaisdk.SystemMessage(msg.Content))
		case message.RoleUser:
			out = append(out, openaisdk.UserMessage(msg.Content))
		case message.RoleAssistant:
			assistantMsg := openaisdk.AssistantMessage(msg.Content)
			if len(msg.ToolCalls) > 0 && assistantMsg.OfAssistant != nil {
				assistantMsg.OfAssistant.ToolCalls = encodeToolCalls(msg.ToolCalls)
			}
			out = append(out, assistantMsg)
		case message.RoleTool:
			out = append(out, openaisdk.ToolMessage(msg.Content, msg.ToolID))
		}
	}
	return out
}

func encodeToolCalls(calls []message.ToolCall) []openaisdk.ChatCompletionMessageToolCallUnionParam {
	out := make([]openaisdk.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, call := range calls {
		args, err := json.Marshal(call.Args)
		if err != nil {
			args = []byte("{}")
		}
		out = append(out, openaisdk.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openaisdk.ChatCompletionMessageFunctionToolCallParam{
				ID: call.ID,
				Function: openaisdk.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      call.Name,
					Arguments: string(args),
				},
			},
		})
	}
	return out
}

// encodeTools converts {"type":"function","function":{...}} schemas into SDK
// tool params.
func encodeTools(tools []map[string]any) ([]openaisdk.ChatCompletionToolUnionParam, error) {
	out := make([]openaisdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, schema := range tools {
		fn, ok := schema["function"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: tool schema missing function block", apperrors.ErrInternal)
		}
		name, _ := fn["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("%w: tool schema missing name", apperrors.ErrInternal)
		}
		def := shared.FunctionDefinitionParam{Name: name}
		if desc, ok := fn["description"].(string); ok && desc != "" {
			def.Description = param.NewOpt(desc)
		}
		if parameters, ok := fn["parameters"].(map[string]any); ok {
			def.Parameters = shared.FunctionParameters(parameters)
		}
		out = append(out, openaisdk.ChatCompletionFunctionTool(def))
	}
	return out, nil
}
