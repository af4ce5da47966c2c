package qc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Rule is the stored form of one configured check.
type Rule struct {
	Type     string          `json:"type"`
	Config   json.RawMessage `json:"config,omitempty"`
	Weight   *float64        `json:"weight,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`
	FailFast bool            `json:"fail_fast,omitempty"`
}

func (r Rule) options() []EntryOption {
	var opts []EntryOption
	if r.Weight != nil {
		opts = append(opts, WithWeight(*r.Weight))
	}
	if r.Enabled != nil {
		opts = append(opts, WithEnabled(*r.Enabled))
	}
	if r.FailFast {
		opts = append(opts, WithFailFast())
	}
	return opts
}

// ParseRules decodes stored QC rules. Two shapes are accepted:
//
//	[{"type": "range_check", "config": {...}, "weight": 1}]
//	{"range_check": {"config": {...}, "weight": 1, "enabled": true}}
//
// In the list form "value" is accepted as an alias of "config".
func ParseRules(raw []byte) ([]Rule, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var items []struct {
			Rule
			Value json.RawMessage `json:"value,omitempty"`
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: rules: %v", ErrInvalidConfig, err)
		}
		rules := make([]Rule, 0, len(items))
		for _, item := range items {
			rule := item.Rule
			if len(rule.Config) == 0 {
				rule.Config = item.Value
			}
			rules = append(rules, rule)
		}
		return rules, nil
	case '{':
		var byType map[string]Rule
		if err := json.Unmarshal(raw, &byType); err != nil {
			return nil, fmt.Errorf("%w: rules: %v", ErrInvalidConfig, err)
		}
		types := make([]string, 0, len(byType))
		for t := range byType {
			types = append(types, t)
		}
		sort.Strings(types)
		rules := make([]Rule, 0, len(types))
		for _, t := range types {
			rule := byType[t]
			rule.Type = t
			rules = append(rules, rule)
		}
		return rules, nil
	default:
		return nil, fmt.Errorf("%w: rules must be a JSON array or object", ErrInvalidConfig)
	}
}
