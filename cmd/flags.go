package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// enumValue is a string flag restricted to a fixed set of choices
type enumValue struct {
	target  *string
	choices []string
}

var _ pflag.Value = (*enumValue)(nil)

func newEnumValue(target *string, def string, choices ...string) *enumValue {
	*target = def
	return &enumValue{target: target, choices: choices}
}

func (e *enumValue) String() string {
	return *e.target
}

func (e *enumValue) Set(v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, c := range e.choices {
		if c == v {
			*e.target = v
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(e.choices, ", "))
}

func (e *enumValue) Type() string {
	return "string"
}
