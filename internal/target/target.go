// Package target describes the execution environment lowered code runs on:
// pointer width, alignment and the control-transfer capabilities that pick
// between dispatch strategies. Targets come from presets or a TOML file;
// capability checks are configuration-time queries, never build constants.
package target

import "fmt"

// Target is one execution environment description.
type Target struct {
	Triple   string `toml:"triple"`
	PtrSize  int    `toml:"ptr_size"`  // bytes
	PtrAlign int    `toml:"ptr_align"` // bytes
	// HasComputedGoto reports whether the environment supports multi-way
	// computed jumps. Without it wide type switches dispatch through a
	// dense index instead of code labels, so this flag affects which
	// lowered form is even executable, not just its speed.
	HasComputedGoto bool `toml:"computed_goto"`
}

func X86_64LinuxGNU() Target {
	return Target{
		Triple:          "x86_64-linux-gnu",
		PtrSize:         8,
		PtrAlign:        8,
		HasComputedGoto: true,
	}
}

func AArch64LinuxGNU() Target {
	return Target{
		Triple:          "aarch64-linux-gnu",
		PtrSize:         8,
		PtrAlign:        8,
		HasComputedGoto: true,
	}
}

func Wasm32() Target {
	return Target{
		Triple:          "wasm32-unknown-unknown",
		PtrSize:         4,
		PtrAlign:        4,
		HasComputedGoto: false,
	}
}

// Default is the host-independent fallback preset.
func Default() Target { return X86_64LinuxGNU() }

// Preset resolves a preset by triple or short alias.
func Preset(name string) (Target, bool) {
	switch name {
	case "x86_64", "x86_64-linux-gnu", "amd64":
		return X86_64LinuxGNU(), true
	case "aarch64", "aarch64-linux-gnu", "arm64":
		return AArch64LinuxGNU(), true
	case "wasm32", "wasm32-unknown-unknown", "wasm":
		return Wasm32(), true
	default:
		return Target{}, false
	}
}

// Presets lists every built-in target.
func Presets() []Target {
	return []Target{X86_64LinuxGNU(), AArch64LinuxGNU(), Wasm32()}
}

// Validate rejects descriptions no lowered module could be correct for.
func (t Target) Validate() error {
	if t.Triple == "" {
		return fmt.Errorf("target: empty triple")
	}
	if t.PtrSize != 4 && t.PtrSize != 8 {
		return fmt.Errorf("target %s: pointer size %d, want 4 or 8", t.Triple, t.PtrSize)
	}
	if t.PtrAlign <= 0 || t.PtrAlign > t.PtrSize {
		return fmt.Errorf("target %s: pointer alignment %d exceeds size %d", t.Triple, t.PtrAlign, t.PtrSize)
	}
	return nil
}

// PtrBits is the pointer width in bits.
func (t Target) PtrBits() int64 { return int64(t.PtrSize) * 8 }

// VTableOffset is the vtable word's byte offset relative to the visible
// pointer of both objects and arrays.
func (t Target) VTableOffset() int64 { return -int64(t.PtrSize) }

// ArrayHeader is the byte size of the array header preceding the visible
// pointer: [count:4][hash:4][vtable:PtrSize].
func (t Target) ArrayHeader() int64 { return 8 + int64(t.PtrSize) }

// CountOffset is the element count's byte offset relative to the visible
// array pointer.
func (t Target) CountOffset() int64 { return -t.ArrayHeader() }

// HashOffset is the hash word's byte offset relative to the visible array
// pointer.
func (t Target) HashOffset() int64 { return -(4 + int64(t.PtrSize)) }
