// Package anthropic implements agent.LLMClient on the official Anthropic SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/sweetpotato0/transcriptqa/agent"
	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/message"
)

// Config holds Anthropic provider configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// Provider implements the agent.LLMClient interface for Anthropic Claude
type Provider struct {
	config Config
	client anthropicsdk.Client
}

// New creates a new Anthropic provider using the official SDK
func New(config Config) *Provider {
	if config.Model == "" {
		config.Model = string(anthropicsdk.ModelClaudeSonnet4_0)
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{
		config: config,
		client: anthropicsdk.NewClient(options...),
	}
}

// Model returns the configured model identifier.
func (p *Provider) Model() string {
	return p.config.Model
}

// Chat implements agent.LLMClient
func (p *Provider) Chat(ctx context.Context, messages []*message.Message, tools []map[string]any) (*agent.ChatResult, error) {
	system, conversation := encodeMessages(messages)

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.config.Model),
		Messages:  conversation,
		MaxTokens: p.config.MaxTokens,
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if len(tools) > 0 {
		encoded, err := encodeTools(tools)
		if err != nil {
			return nil, err
		}
		params.Tools = encoded
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrLLMUnavailable, err)
	}

	var text string
	var toolCalls []message.ToolCall
	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			text += content.Text
		case "tool_use":
			var args map[string]any
			if err := json.Unmarshal(content.Input, &args); err != nil {
				return nil, fmt.Errorf("%w: parse tool arguments: %v", apperrors.ErrLLMUnavailable, err)
			}
			toolCalls = append(toolCalls, message.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: args,
			})
		}
	}

	responseMsg := message.New(message.RoleAssistant, text)
	responseMsg.ToolCalls = toolCalls

	return &agent.ChatResult{
		Message: responseMsg,
		Usage: agent.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// encodeMessages splits the system prompt out of the transcript. Anthropic
// carries system text as a request field, tool results as user-role blocks.
func encodeMessages(messages []*message.Message) (string, []anthropicsdk.MessageParam) {
	var system string
	conversation := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			system = msg.Content
		case message.RoleUser:
			conversation = append(conversation, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			var blocks []anthropicsdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropicsdk.ContentBlockParamUnion{
					OfToolUse: &anthropicsdk.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Name,
						Input: call.Args,
					},
				})
			}
			if len(blocks) > 0 {
				conversation = append(conversation, anthropicsdk.NewAssistantMessage(blocks...))
			}
		case message.RoleTool:
			conversation = append(conversation, anthropicsdk.NewUserMessage(anthropicsdk.ContentBlockParamUnion{
				OfToolResult: &anthropicsdk.ToolResultBlockParam{
					ToolUseID: msg.ToolID,
					Content: []anthropicsdk.ToolResultBlockParamContentUnion{
						{OfText: &anthropicsdk.TextBlockParam{Text: msg.Content}},
					},
				},
			}))
		}
	}
	return system, conversation
}

// encodeTools converts {"type":"function","function":{...}} schemas into
// Anthropic tool params.
func encodeTools(tools []map[string]any) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, schema := range tools {
		fn, ok := schema["function"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: tool schema missing function block", apperrors.ErrInternal)
		}
		name, _ := fn["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("%w: tool schema missing name", apperrors.ErrInternal)
		}
		tp := anthropicsdk.ToolParam{Name: name}
		if desc, ok := fn["description"].(string); ok && desc != "" {
			tp.Description = anthropicsdk.String(desc)
		}
		if parameters, ok := fn["parameters"].(map[string]any); ok {
			tp.InputSchema = anthropicsdk.ToolInputSchemaParam{
				Properties: parameters["properties"],
				Required:   toStringSlice(parameters["required"]),
			}
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tp})
	}
	return out, nil
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
