package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Facts is the evaluation input: a flat map of field name to value, built by
// the caller from the transaction/exception under evaluation. Values are
// strings, numbers (int64/float64) or bools.
type Facts map[string]any

// condition is the tagged-variant tree node. Composite ops use Conditions;
// leaf ops use Field/Value.
type condition struct {
	Op         string          `json:"op"`
	Field      string          `json:"field,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Conditions []condition     `json:"conditions,omitempty"`
}

// Evaluate runs a raw condition tree against the facts. Any structural
// problem (unknown op, missing operands, undecodable value) returns an
// error wrapping ErrMalformedCondition; callers treat that as "no match".
func Evaluate(raw json.RawMessage, facts Facts) (bool, error) {
	c, err := parseCondition(raw)
	if err != nil {
		return false, err
	}
	return c.eval(facts)
}

func parseCondition(raw json.RawMessage) (*condition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedCondition)
	}
	var c condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCondition, err)
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *condition) check() error {
	switch c.Op {
	case "and", "or":
		if len(c.Conditions) == 0 {
			return fmt.Errorf("%w: %s with no conditions", ErrMalformedCondition, c.Op)
		}
		for i := range c.Conditions {
			if err := c.Conditions[i].check(); err != nil {
				return err
			}
		}
	case "not":
		if len(c.Conditions) != 1 {
			return fmt.Errorf("%w: not requires exactly one condition", ErrMalformedCondition)
		}
		return c.Conditions[0].check()
	case "eq", "ne", "gt", "gte", "lt", "lte", "in", "contains":
		if c.Field == "" {
			return fmt.Errorf("%w: %s requires a field", ErrMalformedCondition, c.Op)
		}
		if len(c.Value) == 0 {
			return fmt.Errorf("%w: %s requires a value", ErrMalformedCondition, c.Op)
		}
	default:
		return fmt.Errorf("%w: unknown op %q", ErrMalformedCondition, c.Op)
	}
	return nil
}

func (c *condition) eval(facts Facts) (bool, error) {
	switch c.Op {
	case "and":
		for i := range c.Conditions {
			ok, err := c.Conditions[i].eval(facts)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "or":
		for i := range c.Conditions {
			ok, err := c.Conditions[i].eval(facts)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "not":
		ok, err := c.Conditions[0].eval(facts)
		return !ok, err
	}
	return c.evalLeaf(facts)
}

func (c *condition) evalLeaf(facts Facts) (bool, error) {
	got, present := facts[c.Field]
	// A missing fact never satisfies a positive predicate.
	if !present {
		return false, nil
	}

	switch c.Op {
	case "eq", "ne":
		want, err := decodeScalar(c.Value)
		if err != nil {
			return false, err
		}
		eq := scalarEqual(got, want)
		if c.Op == "ne" {
			return !eq, nil
		}
		return eq, nil

	case "gt", "gte", "lt", "lte":
		gotN, ok := toNumber(got)
		if !ok {
			return false, nil
		}
		var wantN float64
		if err := json.Unmarshal(c.Value, &wantN); err != nil {
			return false, fmt.Errorf("%w: %s expects a number", ErrMalformedCondition, c.Op)
		}
		switch c.Op {
		case "gt":
			return gotN > wantN, nil
		case "gte":
			return gotN >= wantN, nil
		case "lt":
			return gotN < wantN, nil
		default:
			return gotN <= wantN, nil
		}

	case "in":
		var want []json.RawMessage
		if err := json.Unmarshal(c.Value, &want); err != nil {
			return false, fmt.Errorf("%w: in expects a list", ErrMalformedCondition)
		}
		for _, w := range want {
			v, err := decodeScalar(w)
			if err != nil {
				return false, err
			}
			if scalarEqual(got, v) {
				return true, nil
			}
		}
		return false, nil

	case "contains":
		var want string
		if err := json.Unmarshal(c.Value, &want); err != nil {
			return false, fmt.Errorf("%w: contains expects a string", ErrMalformedCondition)
		}
		s, ok := got.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(s, want), nil
	}
	return false, fmt.Errorf("%w: unknown op %q", ErrMalformedCondition, c.Op)
}

func decodeScalar(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCondition, err)
	}
	switch v.(type) {
	case string, float64, bool, nil:
		return v, nil
	}
	return nil, fmt.Errorf("%w: value must be a scalar", ErrMalformedCondition)
}

// scalarEqual compares a fact against a decoded JSON scalar. Numeric facts
// of any Go integer width compare against JSON's float64.
func scalarEqual(got, want any) bool {
	if gn, ok := toNumber(got); ok {
		if wn, ok := toNumber(want); ok {
			return gn == wn
		}
		return false
	}
	return got == want
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
