package detection

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wiretap/dnp3ips/internal/dnp3"
)

type countingProfiler struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *countingProfiler) Observe(option string, _ time.Duration, _ Verdict) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[option]++
}

func TestNewRuleSet(t *testing.T) {
	rs, err := NewRuleSet([]RuleConfig{
		{SID: 1, Msg: "binary input status", Options: []string{"dnp3_obj: group 1, var 2;"}},
		{SID: 2, Rev: 3, Msg: "same option", Options: []string{"dnp3_obj: var 2, group 1"}},
		{SID: 3, Msg: "disabled", Disabled: true, Options: []string{"dnp3_obj: group 2;"}},
		{SID: 4, Msg: "two options", Options: []string{"dnp3_obj: group 1, var 2;", "dnp3_obj: group 60, var 1;"}},
	})
	if err != nil {
		t.Fatalf("NewRuleSet failed: %v", err)
	}

	if rs.Len() != 3 {
		t.Errorf("Len() = %d, want 3", rs.Len())
	}
	if len(rs.Options()) != 2 {
		t.Errorf("distinct options = %d, want 2", len(rs.Options()))
	}

	rules := rs.Rules()
	if rules[0].Rev != 1 || rules[1].Rev != 3 {
		t.Errorf("revs = %d, %d; want 1, 3", rules[0].Rev, rules[1].Rev)
	}
	if rules[0].Options[0] != rules[1].Options[0] || rules[0].Options[0] != rules[2].Options[0] {
		t.Error("equal options should be shared across rules")
	}
}

func TestNewRuleSet_Errors(t *testing.T) {
	tests := []struct {
		name    string
		configs []RuleConfig
		want    error
	}{
		{"missing sid", []RuleConfig{{Options: []string{"dnp3_obj;"}}}, ErrInvalidRule},
		{"duplicate sid", []RuleConfig{
			{SID: 5, Options: []string{"dnp3_obj;"}},
			{SID: 5, Options: []string{"dnp3_obj: group 1;"}},
		}, ErrInvalidRule},
		{"no options", []RuleConfig{{SID: 6}}, ErrInvalidRule},
		{"bad option", []RuleConfig{{SID: 7, Options: []string{"dnp3_obj: group 300;"}}}, ErrInvalidOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRuleSet(tt.configs); !errors.Is(err, tt.want) {
				t.Errorf("NewRuleSet() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.yaml")
	second := filepath.Join(dir, "b.yaml")

	if err := os.WriteFile(first, []byte(`rules:
  - sid: 1000001
    msg: "DNP3 analog input"
    options:
      - "dnp3_obj: group 30, var 1;"
`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte(`rules:
  - sid: 1000002
    rev: 2
    msg: "DNP3 class data"
    options:
      - "dnp3_obj: group 60, var 2;"
`), 0644); err != nil {
		t.Fatal(err)
	}

	rs, err := LoadRules(first, second)
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if rs.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rs.Len())
	}
	if rs.Rules()[1].Msg != "DNP3 class data" || rs.Rules()[1].Rev != 2 {
		t.Errorf("second rule = %+v", rs.Rules()[1])
	}
}

func TestLoadRules_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadRules(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("rules: [sid: {"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRules(bad); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("LoadRules() error = %v, want ErrInvalidRule", err)
	}
}

func TestRuleSet_Evaluate(t *testing.T) {
	rs, err := NewRuleSet([]RuleConfig{
		{SID: 1, Options: []string{"dnp3_obj: group 10, var 1;"}},
		{SID: 2, Options: []string{"dnp3_obj: group 10, var 1;"}},
		{SID: 3, Options: []string{"dnp3_obj: group 10, var 2;"}},
		{SID: 4, Options: []string{"dnp3_obj: group 10, var 2;", "dnp3_obj: group 10, var 1;"}},
	})
	if err != nil {
		t.Fatalf("NewRuleSet failed: %v", err)
	}

	pkt := pduPacket(t, dnp3.DirectionServer, 0x00, 0x81, 0x00, 0x00, 0x0A, 0x01, 0x00)
	prof := &countingProfiler{}
	matched := rs.Evaluate(pkt, prof)

	if len(matched) != 2 || matched[0].SID != 1 || matched[1].SID != 2 {
		t.Fatalf("matched = %v, want sids 1 and 2", matched)
	}
	// Two distinct options, each evaluated once.
	if prof.calls[ObjOptionName] != 2 {
		t.Errorf("evaluations = %d, want 2", prof.calls[ObjOptionName])
	}

	if got := rs.Evaluate(pkt, nil); len(got) != 2 {
		t.Errorf("Evaluate with nil profiler matched %d rules", len(got))
	}
}

func TestRuleSet_EvaluateEmpty(t *testing.T) {
	rs, err := NewRuleSet(nil)
	if err != nil {
		t.Fatalf("NewRuleSet failed: %v", err)
	}
	if got := rs.Evaluate(pduPacket(t, dnp3.DirectionServer, 0, 0, 0, 0), nil); got != nil {
		t.Errorf("Evaluate() = %v, want nil", got)
	}

	empty := EmptyRuleSet()
	if empty.Len() != 0 || len(empty.Options()) != 0 {
		t.Errorf("EmptyRuleSet has %d rules", empty.Len())
	}
	if got := empty.Evaluate(pduPacket(t, dnp3.DirectionServer, 0, 0, 0, 0), nil); got != nil {
		t.Errorf("Evaluate() = %v, want nil", got)
	}
}
