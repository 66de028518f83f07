package detection

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/wiretap/dnp3ips/internal/model"
)

// ErrInvalidRule is wrapped by rule load errors.
var ErrInvalidRule = errors.New("invalid rule")

// RuleConfig is the on-disk form of a rule.
type RuleConfig struct {
	SID      uint32   `yaml:"sid"`
	Rev      uint32   `yaml:"rev,omitempty"`
	Msg      string   `yaml:"msg"`
	Disabled bool     `yaml:"disabled,omitempty"`
	Options  []string `yaml:"options"`
}

// RuleFile is the document layout of a rules file.
type RuleFile struct {
	Rules []RuleConfig `yaml:"rules"`
}

// Rule is a loaded rule. It matches a packet when every option matches.
type Rule struct {
	SID     uint32
	Rev     uint32
	Msg     string
	Options []Option

	slots []int
}

// RuleSet is an immutable collection of rules sharing interned options.
// It may be evaluated concurrently.
type RuleSet struct {
	rules []*Rule
	table *OptionTable
}

// EmptyRuleSet returns a rule set that matches nothing.
func EmptyRuleSet() *RuleSet {
	return &RuleSet{table: NewOptionTable()}
}

// NewRuleSet builds a rule set from configurations. Disabled rules are
// skipped; any invalid rule fails the whole set.
func NewRuleSet(configs []RuleConfig) (*RuleSet, error) {
	rs := EmptyRuleSet()
	seen := make(map[uint32]bool)

	for i, rc := range configs {
		if rc.Disabled {
			continue
		}
		if rc.SID == 0 {
			return nil, fmt.Errorf("%w: rule %d: missing sid", ErrInvalidRule, i+1)
		}
		if seen[rc.SID] {
			return nil, fmt.Errorf("%w: duplicate sid %d", ErrInvalidRule, rc.SID)
		}
		if len(rc.Options) == 0 {
			return nil, fmt.Errorf("%w: sid %d: no options", ErrInvalidRule, rc.SID)
		}
		seen[rc.SID] = true

		rule := &Rule{SID: rc.SID, Rev: rc.Rev, Msg: rc.Msg}
		if rule.Rev == 0 {
			rule.Rev = 1
		}
		for _, text := range rc.Options {
			opt, err := ParseOption(text)
			if err != nil {
				return nil, fmt.Errorf("sid %d: %w", rc.SID, err)
			}
			opt, slot := rs.table.Intern(opt)
			rule.Options = append(rule.Options, opt)
			rule.slots = append(rule.slots, slot)
		}
		rs.rules = append(rs.rules, rule)
	}
	return rs, nil
}

// LoadRules reads and merges YAML rule files.
func LoadRules(paths ...string) (*RuleSet, error) {
	var configs []RuleConfig
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules: %w", err)
		}
		var file RuleFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRule, path, err)
		}
		configs = append(configs, file.Rules...)
	}
	return NewRuleSet(configs)
}

// Rules returns the loaded rules.
func (rs *RuleSet) Rules() []*Rule {
	return rs.rules
}

// Options returns the distinct options referenced by the rules.
func (rs *RuleSet) Options() []Option {
	return rs.table.Options()
}

// Len returns the number of loaded rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Evaluate returns the rules matching pkt. Each distinct option is
// evaluated at most once per call. A nil profiler is allowed.
func (rs *RuleSet) Evaluate(pkt *model.Packet, prof Profiler) []*Rule {
	if len(rs.rules) == 0 {
		return nil
	}
	if prof == nil {
		prof = NopProfiler{}
	}

	// 0 = not evaluated, otherwise verdict+1.
	memo := make([]uint8, rs.table.Len())
	var matched []*Rule

	for _, rule := range rs.rules {
		ok := true
		for i, opt := range rule.Options {
			slot := rule.slots[i]
			if memo[slot] == 0 {
				start := time.Now()
				v := opt.Eval(pkt)
				prof.Observe(opt.Name(), time.Since(start), v)
				memo[slot] = uint8(v) + 1
			}
			if Verdict(memo[slot]-1) != Match {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, rule)
		}
	}
	return matched
}
