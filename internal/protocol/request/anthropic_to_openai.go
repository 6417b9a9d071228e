// Package request translates Anthropic Messages API requests into OpenAI
// chat-completions requests for OpenAI-compatible upstreams.
package request

import (
	"errors"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"switchboard/internal/protocol"
)

// DefaultBlockedTools are tool names never forwarded upstream. BatchTool is
// rejected by most OpenAI-compatible providers because of its nested schema.
var DefaultBlockedTools = []string{"BatchTool"}

// ModelMap routes Anthropic model families to upstream model names.
type ModelMap struct {
	Haiku   string `json:"haiku,omitempty"`
	Sonnet  string `json:"sonnet,omitempty"`
	Opus    string `json:"opus,omitempty"`
	Default string `json:"default,omitempty"`
}

// Options configures one translation.
type Options struct {
	Models       ModelMap
	BlockedTools []string
}

// MapModel picks the upstream model for an Anthropic model name by family
// substring (haiku, sonnet, opus). Names outside those families pass through
// unchanged; an absent name resolves to the default mapping.
func MapModel(model string, m ModelMap) string {
	if model == "" {
		return m.Default
	}
	lower := strings.ToLower(model)
	var mapped string
	switch {
	case strings.Contains(lower, "haiku"):
		mapped = m.Haiku
	case strings.Contains(lower, "sonnet"):
		mapped = m.Sonnet
	case strings.Contains(lower, "opus"):
		mapped = m.Opus
	default:
		return model
	}
	if mapped == "" {
		mapped = m.Default
	}
	if mapped == "" {
		return model
	}
	return mapped
}

// Translate converts an Anthropic Messages request into an OpenAI
// chat-completions request. The input is never mutated.
func Translate(req *protocol.AnthropicRequest, opts Options) (*protocol.OpenAIRequest, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}

	out := &protocol.OpenAIRequest{
		Model:     MapModel(req.Model, opts.Models),
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}

	if req.Temperature != nil {
		t := *req.Temperature
		out.Temperature = &t
	} else {
		t := 1.0
		out.Temperature = &t
	}
	if req.TopP != nil {
		p := *req.TopP
		out.TopP = &p
	}
	if len(req.StopSequences) > 0 {
		out.Stop = append([]string(nil), req.StopSequences...)
	}
	if req.Metadata != nil {
		out.User = req.Metadata.UserID
	}
	if req.Stream {
		out.StreamOptions = &protocol.OpenAIStreamOptions{IncludeUsage: true}
	}

	for _, b := range req.SystemBlocks() {
		if b.Type == protocol.BlockTypeText && b.Text != "" {
			out.Messages = append(out.Messages, protocol.OpenAIMessage{
				Role:    "system",
				Content: b.Text,
			})
		}
	}

	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, convertMessage(req.Model, msg)...)
	}

	filter := newToolFilter(opts.BlockedTools)
	for _, tool := range req.Tools {
		if filter.blocked(tool.Name) {
			logrus.WithField("tool", tool.Name).Debug("omitting blocked tool")
			continue
		}
		out.Tools = append(out.Tools, protocol.OpenAITool{
			Type: "function",
			Function: protocol.OpenAIFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  cleanSchema(tool.InputSchema),
			},
		})
	}

	if req.ToolChoice != nil && len(out.Tools) > 0 {
		out.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	return out, nil
}

// convertMessage maps one Anthropic message to its OpenAI form. tool_result
// blocks split out into role:"tool" messages emitted after the main message.
func convertMessage(model string, msg protocol.AnthropicMessage) []protocol.OpenAIMessage {
	main := protocol.OpenAIMessage{Role: msg.Role}
	var toolResults []protocol.OpenAIMessage
	var textParts []string

	for _, b := range msg.Blocks() {
		switch b.Type {
		case protocol.BlockTypeText:
			if b.Text != "" {
				textParts = append(textParts, b.Text)
			}
		case protocol.BlockTypeThinking:
			// assistant thinking is not replayed upstream
		case protocol.BlockTypeToolUse:
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			main.ToolCalls = append(main.ToolCalls, protocol.OpenAIToolCall{
				ID:   b.ID,
				Type: "function",
				Function: protocol.OpenAIFunctionCall{
					Name:      b.Name,
					Arguments: args,
				},
			})
		case protocol.BlockTypeToolResult:
			if b.ToolUseID == "" {
				logrus.WithFields(logrus.Fields{
					"model": model,
					"role":  msg.Role,
				}).Warn("dropping tool_result without tool_use_id")
				continue
			}
			toolResults = append(toolResults, protocol.OpenAIMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    protocol.ContentToText(b.Content),
			})
		case protocol.BlockTypeImage:
			logrus.WithFields(logrus.Fields{
				"model": model,
				"role":  msg.Role,
			}).Warn("dropping image block, upstream translation is text only")
		default:
			logrus.WithFields(logrus.Fields{
				"model": model,
				"role":  msg.Role,
				"block": b.Type,
			}).Warn("dropping unrecognized content block")
		}
	}

	main.Content = strings.Join(textParts, " ")

	var result []protocol.OpenAIMessage
	if main.Content != "" || len(main.ToolCalls) > 0 {
		result = append(result, main)
	}
	return append(result, toolResults...)
}

func convertToolChoice(tc *protocol.AnthropicToolChoice) interface{} {
	switch tc.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "none":
		return "none"
	case "tool":
		choice := protocol.OpenAIFunctionChoice{Type: "function"}
		choice.Function.Name = tc.Name
		return choice
	default:
		return nil
	}
}

// toolFilter matches tool names against blocked glob patterns. Patterns that
// fail to compile degrade to exact-name matches.
type toolFilter struct {
	globs []glob.Glob
	exact []string
}

func newToolFilter(patterns []string) *toolFilter {
	f := &toolFilter{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			logrus.WithError(err).WithField("pattern", p).Warn("invalid blocked tool pattern, matching exactly")
			f.exact = append(f.exact, p)
			continue
		}
		f.globs = append(f.globs, g)
	}
	return f
}

func (f *toolFilter) blocked(name string) bool {
	for _, g := range f.globs {
		if g.Match(name) {
			return true
		}
	}
	for _, e := range f.exact {
		if e == name {
			return true
		}
	}
	return false
}
