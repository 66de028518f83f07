package detection

import (
	"fmt"
	"sort"
)

// Parameter describes one integer argument of a rule option.
type Parameter struct {
	Name    string
	Min     int64
	Max     int64
	Default int64
	Help    string
}

// Range renders the accepted range as "min:max".
func (p Parameter) Range() string {
	return fmt.Sprintf("%d:%d", p.Min, p.Max)
}

func (p Parameter) check(kind string, v int64) error {
	if v < p.Min || v > p.Max {
		return fmt.Errorf("%w: %s %s %d out of range %s", ErrInvalidOption, kind, p.Name, v, p.Range())
	}
	return nil
}

// OptionSpec declares a rule option kind: its parameters and constructor.
type OptionSpec struct {
	Name   string
	Help   string
	Params []Parameter
	Build  func(args map[string]int64) (Option, error)
}

// param returns the named parameter.
func (s *OptionSpec) param(name string) (Parameter, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// defaults returns every parameter set to its default value.
func (s *OptionSpec) defaults() map[string]int64 {
	args := make(map[string]int64, len(s.Params))
	for _, p := range s.Params {
		args[p.Name] = p.Default
	}
	return args
}

// objSpec declares dnp3_obj.
var objSpec = &OptionSpec{
	Name: ObjOptionName,
	Help: "detection option to check dnp3 object headers",
	Params: []Parameter{
		{Name: "group", Min: 0, Max: 255, Default: 0, Help: "match given dnp3 object header group"},
		{Name: "var", Min: 0, Max: 255, Default: 0, Help: "match given dnp3 object header var"},
	},
	Build: func(args map[string]int64) (Option, error) {
		return NewObjOption(args["group"], args["var"])
	},
}

var optionSpecs = map[string]*OptionSpec{
	objSpec.Name: objSpec,
}

// LookupOption returns the spec for a rule keyword.
func LookupOption(name string) (*OptionSpec, bool) {
	s, ok := optionSpecs[name]
	return s, ok
}

// OptionSpecs returns all known option kinds sorted by name.
func OptionSpecs() []*OptionSpec {
	specs := make([]*OptionSpec, 0, len(optionSpecs))
	for _, s := range optionSpecs {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
