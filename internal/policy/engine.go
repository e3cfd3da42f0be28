// Package policy decides whether a user action may be sent to the brain.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// User actions evaluated by the policy.
const (
	ActionNewConversation      = "new_conversation"
	ActionLoadConversation     = "load_conversation"
	ActionRefreshConversations = "refresh_conversations"
	ActionMuteMic              = "mute_mic"
	ActionUnmuteMic            = "unmute_mic"
	ActionCreateReminder       = "create_reminder"
	ActionCompleteReminder     = "complete_reminder"
	ActionDeleteReminder       = "delete_reminder"
	ActionRegister             = "register"
	ActionRegisterSimple       = "register_simple"
	ActionSendVoice            = "send_voice"
)

// Input is what the policy sees about the session.
type Input struct {
	Action      string
	Phase       string
	HasUser     bool
	ChannelOpen bool
}

// Decision is the policy outcome. Reason is user-facing text.
type Decision struct {
	Allow  bool
	Reason string
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.action_policy"),
		rego.Module("action_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks one action. A policy without a decision allows it.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	input := map[string]interface{}{
		"action":       in.Action,
		"phase":        in.Phase,
		"has_user":     in.HasUser,
		"channel_open": in.ChannelOpen,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: true}, nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{Allow: true}, nil
	}

	decision, _ := doc["decision"].(string)
	reason, _ := doc["reason"].(string)
	if decision == "deny" {
		return Decision{Allow: false, Reason: reason}, nil
	}
	return Decision{Allow: true}, nil
}

// DefaultPolicy reproduces the client's guards: nothing is sent over a
// closed channel, conversation and reminder actions need a recognized
// user, and voice is not streamed while scan frames are.
const DefaultPolicy = `
package action_policy

default decision = "allow"

channel_actions = {
	"new_conversation", "load_conversation", "refresh_conversations",
	"mute_mic", "unmute_mic", "create_reminder",
	"complete_reminder", "delete_reminder", "register", "register_simple",
	"send_voice"
}

user_actions = {
	"new_conversation", "refresh_conversations", "create_reminder",
	"complete_reminder", "delete_reminder"
}

decision = "deny" {
	channel_actions[input.action]
	not input.channel_open
}

decision = "deny" {
	user_actions[input.action]
	not input.has_user
}

decision = "deny" {
	input.action == "send_voice"
	input.phase == "scanning"
}

reason = "Not connected to the assistant. Please try again." {
	channel_actions[input.action]
	not input.channel_open
}

reason = "Please wait until you are recognized." {
	input.channel_open
	user_actions[input.action]
	not input.has_user
}

reason = "Voice is paused while scanning your face." {
	input.channel_open
	input.action == "send_voice"
	input.phase == "scanning"
}
`
