// Package rules provides the tenant-configurable rule engine.
//
// A rule pairs a JSON condition tree with an action. Rules come in three
// types evaluated at different pipeline points: MATCHING rules run before
// the matcher (skip or force outcomes), EXCEPTION rules run when an
// exception is about to open (reprioritize or suppress), ALERT rules run
// after exception creation (emit alert events). Within a type the first
// matching rule wins; a malformed condition never matches.
package rules

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrRuleNotFound       = errors.New("rules: not found")
	ErrNameTaken          = errors.New("rules: name already exists for this tenant")
	ErrMalformedCondition = errors.New("rules: malformed condition")
	ErrUnknownAction      = errors.New("rules: unknown action")
)

// Type determines where in the pipeline a rule is evaluated.
type Type string

const (
	TypeMatching  Type = "MATCHING"
	TypeException Type = "EXCEPTION"
	TypeAlert     Type = "ALERT"
)

// ValidType reports whether t is a known rule type.
func ValidType(t Type) bool {
	return t == TypeMatching || t == TypeException || t == TypeAlert
}

// Action is what a matching rule does.
type Action string

const (
	ActionAutoMatch       Action = "auto_match"
	ActionCreateException Action = "create_exception"
	ActionSendAlert       Action = "send_alert"
	ActionSkipMatching    Action = "skip_matching"
	ActionSetStatus       Action = "set_status"
	ActionSetPriority     Action = "set_priority"
)

// ValidAction reports whether a is a known action.
func ValidAction(a Action) bool {
	switch a {
	case ActionAutoMatch, ActionCreateException, ActionSendAlert,
		ActionSkipMatching, ActionSetStatus, ActionSetPriority:
		return true
	}
	return false
}

// Rule is one tenant-scoped rule.
type Rule struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	Name         string          `json:"name"`
	Type         Type            `json:"type"`
	Condition    json.RawMessage `json:"condition"`
	Action       Action          `json:"action"`
	ActionParams json.RawMessage `json:"actionParams,omitempty"` // e.g. {"priority":"P4"}, {"status":"EXPECTED"}
	Priority     int             `json:"priority"`               // lower = evaluated first
	Enabled      bool            `json:"enabled"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// SetPriorityParams is the ActionParams payload for set_priority.
type SetPriorityParams struct {
	Priority string `json:"priority"` // P1..P4
}

// SetStatusParams is the ActionParams payload for set_status.
type SetStatusParams struct {
	Status string `json:"status"`
}

// SendAlertParams is the ActionParams payload for send_alert.
type SendAlertParams struct {
	ChannelHint string `json:"channelHint,omitempty"` // e.g. "pagerduty", "email"
}

// CreateExceptionParams is the ActionParams payload for create_exception.
type CreateExceptionParams struct {
	Reason string `json:"reason,omitempty"`
}

// Validate checks a rule's type, action and condition for structural
// soundness. Stored rules always pass Validate; the engine still treats any
// evaluation error as a non-match.
func Validate(r *Rule) error {
	if !ValidType(r.Type) {
		return errors.New("rules: unknown rule type")
	}
	if !ValidAction(r.Action) {
		return ErrUnknownAction
	}
	if _, err := parseCondition(r.Condition); err != nil {
		return err
	}
	return nil
}
