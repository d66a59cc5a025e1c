package policy

import (
	"strings"

	"github.com/viant/overseer/model/task"
)

// Modes recognised by the gate.
const (
	ModeAsk  = "ask"  // wait for a human decision (default)
	ModeAuto = "auto" // approve automatically when the intent is allowed
	ModeDeny = "deny" // never execute
)

// Decision is the outcome of evaluating a policy for one draft.
type Decision string

const (
	DecisionAsk  Decision = "ask"
	DecisionAuto Decision = "auto"
	DecisionDeny Decision = "deny"
)

// Policy governs one category.
//
//   - Mode controls the high-level behaviour (ask / auto / deny).
//   - AllowList restricts auto approval to the listed intents (empty => all).
//   - BlockList denies the listed intents regardless of Mode.
//
// A nil *Policy means "ask".
type Policy struct {
	Mode      string
	AllowList []string
	BlockList []string
}

// Config represents the serialisable form of a Policy.
type Config struct {
	Mode      string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	AllowList []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	BlockList []string `json:"block,omitempty" yaml:"block,omitempty"`
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		Mode:      p.Mode,
		AllowList: append([]string(nil), p.AllowList...),
		BlockList: append([]string(nil), p.BlockList...),
	}
}

// FromConfig converts a stored Config back to a runtime Policy.
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	return &Policy{
		Mode:      strings.ToLower(strings.TrimSpace(c.Mode)),
		AllowList: append([]string(nil), c.AllowList...),
		BlockList: append([]string(nil), c.BlockList...),
	}
}

// IsAllowed evaluates AllowList / BlockList by case-insensitive match of the
// intent.
func (p *Policy) IsAllowed(intent string) bool {
	if p == nil {
		return true
	}
	if p.IsBlocked(intent) {
		return false
	}
	if len(p.AllowList) == 0 {
		return true
	}
	return contains(p.AllowList, intent)
}

// IsBlocked reports whether intent is on the BlockList.
func (p *Policy) IsBlocked(intent string) bool {
	return p != nil && contains(p.BlockList, intent)
}

// Decide evaluates the policy for a draft intent.
func (p *Policy) Decide(intent string) Decision {
	if p == nil {
		return DecisionAsk
	}
	if p.Mode == ModeDeny || p.IsBlocked(intent) {
		return DecisionDeny
	}
	if p.Mode == ModeAuto && p.IsAllowed(intent) {
		return DecisionAuto
	}
	return DecisionAsk
}

func contains(list []string, value string) bool {
	normalized := strings.ToLower(value)
	for _, candidate := range list {
		if normalized == strings.ToLower(candidate) {
			return true
		}
	}
	return false
}

// Table maps categories to policies.
type Table map[task.Category]*Policy

// Decide evaluates the policy of category for intent.
func (t Table) Decide(category task.Category, intent string) Decision {
	if t == nil {
		return DecisionAsk
	}
	return t[category].Decide(intent)
}

// NewTable builds a table from configs keyed by category name.
func NewTable(configs map[string]*Config) Table {
	ret := Table{}
	for name, c := range configs {
		ret[task.Category(strings.ToLower(name))] = FromConfig(c)
	}
	return ret
}

// Configs converts the table back to its serialisable form.
func (t Table) Configs() map[string]*Config {
	ret := make(map[string]*Config, len(t))
	for category, p := range t {
		ret[string(category)] = ToConfig(p)
	}
	return ret
}
