package target

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// LoadFile reads a target description from a TOML file. Fields the file
// omits keep the default preset's values, so a file can just flip
// computed_goto for an otherwise standard target.
func LoadFile(path string) (Target, error) {
	t := Default()
	meta, err := toml.DecodeFile(path, &t)
	if err != nil {
		return Target{}, fmt.Errorf("target: %w", err)
	}
	if un := meta.Undecoded(); len(un) > 0 {
		return Target{}, fmt.Errorf("target %s: unknown key %q", path, un[0].String())
	}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}
