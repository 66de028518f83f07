package detection

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseOption parses one option in rule syntax, for example
//
//	dnp3_obj: group 10, var 1;
//
// Parameters that are not given take their defaults.
func ParseOption(text string) (Option, error) {
	body := strings.TrimSpace(text)
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	if body == "" {
		return nil, fmt.Errorf("%w: empty option", ErrInvalidOption)
	}

	name, argText, _ := strings.Cut(body, ":")
	name = strings.TrimSpace(name)

	spec, ok := LookupOption(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown option %q", ErrInvalidOption, name)
	}

	args := spec.defaults()
	seen := make(map[string]bool)

	argText = strings.TrimSpace(argText)
	if argText != "" {
		for _, field := range strings.Split(argText, ",") {
			key, value, err := splitArg(field)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidOption, name, err)
			}
			p, ok := spec.param(key)
			if !ok {
				return nil, fmt.Errorf("%w: %s: unknown parameter %q", ErrInvalidOption, name, key)
			}
			if seen[key] {
				return nil, fmt.Errorf("%w: %s: duplicate parameter %q", ErrInvalidOption, name, key)
			}
			seen[key] = true

			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %s expects an integer, got %q", ErrInvalidOption, name, key, value)
			}
			if err := p.check(name, n); err != nil {
				return nil, err
			}
			args[key] = n
		}
	}

	return spec.Build(args)
}

// splitArg splits "key value" into its two words.
func splitArg(field string) (string, string, error) {
	words := strings.Fields(field)
	switch len(words) {
	case 2:
		return words[0], words[1], nil
	case 0:
		return "", "", errors.New("empty parameter")
	default:
		return "", "", fmt.Errorf("malformed parameter %q", strings.TrimSpace(field))
	}
}
