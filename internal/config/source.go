package config

import (
	"fmt"

	"github.com/vk/pagirun/internal/options"
)

// Source tags where an override mapping came from.
type Source int

const (
	CodeDefault Source = iota
	CommandLineFlag
	FileDefinition
	SweepFlag
)

func (s Source) String() string {
	switch s {
	case CodeDefault:
		return "code overrides"
	case CommandLineFlag:
		return "command line"
	case FileDefinition:
		return "experiment definition"
	case SweepFlag:
		return "sweep"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Override is one tier of the cascade. A nil Mapping means the source
// supplied nothing.
type Override struct {
	Source  Source
	Mapping options.Mapping
	Policy  options.Policy
}

// Present reports whether the source supplied a mapping.
func (o Override) Present() bool { return o.Mapping != nil }

// Applied records one override that changed an option set.
type Applied struct {
	Target string
	Source Source
	Keys   []string
}

// Apply applies the tiers to set in order and returns what was applied.
// The first failing tier aborts with a ConfigurationError and set keeps the
// values of the tiers before it.
func Apply(target string, set *options.OptionSet, tiers ...Override) ([]Applied, error) {
	var applied []Applied
	for _, t := range tiers {
		if !t.Present() {
			continue
		}
		if err := set.Override(t.Mapping, t.Policy); err != nil {
			return applied, &ConfigurationError{Target: target, Source: t.Source.String(), Err: err}
		}
		applied = append(applied, Applied{Target: target, Source: t.Source, Keys: t.Mapping.Keys()})
	}
	return applied, nil
}
