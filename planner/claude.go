package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/gatherkit/gather-go/core"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
	intentToolName   = "extract_intent"
)

const intentSystemPrompt = `You are the intent extractor for a group event planner. Read the user's message and call extract_intent exactly once with the structured reading.

Classification:
- "recommend": the user wants event suggestions. Fill query_text with what to search for and members with every mentioned person plus the sender.
- "refine": the user is adjusting results they were already shown. Fill only what changed.
- "update_profile": the user states likes or dislikes. Fill add_preferences / remove_preferences with short lowercase tags.
- "update_busy": the user states when someone is unavailable. Fill busy_slots.
- "smalltalk": greetings or chatter. Fill reply with a short friendly answer.
- "unknown": none of the above. Fill reply with a short explanation of what you can help with.

All timestamps are RFC 3339 in UTC. Resolve relative dates against the current date given below. Member identifiers are the bare names after @, or the sender id for "me"/"I".`

// ClaudeInterpreter reads intents with the Claude API via a forced tool
// call. Any API failure falls back to the deterministic rule interpreter so
// sessions survive LLM outages.
type ClaudeInterpreter struct {
	client   *anthropic.Client
	model    string
	fallback Interpreter
}

// ClaudeOption configures the interpreter.
type ClaudeOption func(*ClaudeInterpreter)

// WithModel overrides the Claude model.
func WithModel(model string) ClaudeOption {
	return func(c *ClaudeInterpreter) {
		c.model = model
	}
}

// WithFallback overrides the interpreter used when the API is unreachable.
func WithFallback(fallback Interpreter) ClaudeOption {
	return func(c *ClaudeInterpreter) {
		c.fallback = fallback
	}
}

// NewClaudeInterpreter wires the interpreter with its fallback.
func NewClaudeInterpreter(client *anthropic.Client, opts ...ClaudeOption) *ClaudeInterpreter {
	c := &ClaudeInterpreter{
		client:   client,
		model:    defaultModel,
		fallback: RuleInterpreter{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// intentPayload is the wire form of the extract_intent tool input.
type intentPayload struct {
	Kind              string   `json:"kind"`
	QueryText         string   `json:"query_text,omitempty"`
	Members           []string `json:"members,omitempty"`
	WindowStart       string   `json:"window_start,omitempty"`
	WindowEnd         string   `json:"window_end,omitempty"`
	AddPreferences    []string `json:"add_preferences,omitempty"`
	RemovePreferences []string `json:"remove_preferences,omitempty"`
	BusySlots         []struct {
		UserID string `json:"user_id"`
		Start  string `json:"start"`
		End    string `json:"end"`
	} `json:"busy_slots,omitempty"`
	Reply string `json:"reply,omitempty"`
}

func intentTool() anthropic.ToolUnionParam {
	slotSchema := objectSchema(map[string]interface{}{
		"user_id": stringProperty("Member the busy slot belongs to"),
		"start":   stringProperty("Slot start, RFC 3339 UTC"),
		"end":     stringProperty("Slot end, RFC 3339 UTC"),
	}, "user_id", "start", "end")

	schema := objectSchema(map[string]interface{}{
		"kind": stringEnumProperty("Intent classification",
			"recommend", "refine", "update_profile", "update_busy", "smalltalk", "unknown"),
		"query_text":         stringProperty("Free-text description of the events to search for"),
		"members":            arrayProperty("Resolved member identifiers", stringProperty("Member id")),
		"window_start":       stringProperty("Time-window start, RFC 3339 UTC"),
		"window_end":         stringProperty("Time-window end, RFC 3339 UTC"),
		"add_preferences":    arrayProperty("Preference tags to add", stringProperty("Lowercase tag")),
		"remove_preferences": arrayProperty("Preference tags to remove", stringProperty("Lowercase tag")),
		"busy_slots":         arrayProperty("Busy slots to record", slotSchema),
		"reply":              stringProperty("Direct reply text for smalltalk and unknown intents"),
	}, "kind")

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        intentToolName,
			Description: anthropic.String("Report the structured intent extracted from the user's message."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   []string{"kind"},
			},
		},
	}
}

// Interpret asks Claude for the structured intent and validates the result.
func (c *ClaudeInterpreter) Interpret(ctx context.Context, state *core.SessionState, sender, text string) (core.Intent, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: defaultMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: intentSystemPrompt + "\n\n" + c.sessionContext(state, sender)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
		Tools: []anthropic.ToolUnionParam{intentTool()},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: intentToolName},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return core.Intent{}, ctx.Err()
		}
		log.Printf("[PLANNER] claude interpret failed, falling back to rules: %v", err)
		return c.fallback.Interpret(ctx, state, sender, text)
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != intentToolName {
			continue
		}
		var payload intentPayload
		if err := json.Unmarshal(block.Input, &payload); err != nil {
			log.Printf("[PLANNER] bad intent payload, falling back to rules: %v", err)
			return c.fallback.Interpret(ctx, state, sender, text)
		}
		return payload.toIntent()
	}

	log.Printf("[PLANNER] no tool call in claude response, falling back to rules")
	return c.fallback.Interpret(ctx, state, sender, text)
}

// sessionContext summarizes what the session already knows, so refinements
// and relative dates resolve correctly.
func (c *ClaudeInterpreter) sessionContext(state *core.SessionState, sender string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current date: %s.\n", time.Now().UTC().Format("Monday, 2006-01-02"))
	fmt.Fprintf(&b, "Sender id: %s.\n", sender)
	if state.Query != "" {
		fmt.Fprintf(&b, "Current query: %q.\n", state.Query)
	}
	if len(state.Group) > 0 {
		fmt.Fprintf(&b, "Current group: %s.\n", strings.Join(state.Group, ", "))
	}
	if len(state.Candidates) > 0 {
		fmt.Fprintf(&b, "Results are currently presented; adjustments are refinements.\n")
	}
	return b.String()
}

func (p *intentPayload) toIntent() (core.Intent, error) {
	intent := core.Intent{
		Kind:              core.IntentKind(p.Kind),
		QueryText:         strings.TrimSpace(p.QueryText),
		Members:           p.Members,
		AddPreferences:    p.AddPreferences,
		RemovePreferences: p.RemovePreferences,
		Reply:             p.Reply,
	}

	switch intent.Kind {
	case core.IntentRecommend, core.IntentRefine, core.IntentUpdateProfile,
		core.IntentUpdateBusy, core.IntentSmalltalk, core.IntentUnknown:
	default:
		intent.Kind = core.IntentUnknown
	}

	if p.WindowStart != "" && p.WindowEnd != "" {
		start, serr := time.Parse(time.RFC3339, p.WindowStart)
		end, eerr := time.Parse(time.RFC3339, p.WindowEnd)
		if serr == nil && eerr == nil && start.Before(end) {
			intent.Window = &core.Interval{Start: start, End: end}
		}
	}

	for _, slot := range p.BusySlots {
		start, serr := time.Parse(time.RFC3339, slot.Start)
		end, eerr := time.Parse(time.RFC3339, slot.End)
		if serr != nil || eerr != nil {
			continue
		}
		intent.BusySlots = append(intent.BusySlots, core.BusyInterval{
			UserID: slot.UserID,
			Start:  start,
			End:    end,
		})
	}

	return intent, nil
}
