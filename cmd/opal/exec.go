package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"opal/internal/artifact"
	"opal/internal/interp"
	"opal/internal/target"
)

var (
	execTargetName string
	execPoison     bool
	execMaxSteps   int
)

func init() {
	execCmd.Flags().StringVar(&execTargetName, "target", "x86_64", "target preset the artifact was lowered for")
	execCmd.Flags().BoolVar(&execPoison, "poison", false, "fill fresh non-zeroed allocations with 0xAA")
	execCmd.Flags().IntVar(&execMaxSteps, "max-steps", 0, "instruction budget (0 = default)")
}

var execCmd = &cobra.Command{
	Use:   "exec [flags] <artifact> <function> [args...]",
	Short: "Run a function from a lowered artifact",
	Long: "Exec interprets lowered code directly: raw loads, stores and indirect calls\n" +
		"against a flat memory image. Arguments are machine words; negative values and\n" +
		"0x-prefixed hex are accepted.",
	Args: cobra.MinimumNArgs(2),
	RunE: runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	b, err := artifact.Load(args[0])
	if err != nil {
		return err
	}
	if b.Table == nil {
		return fmt.Errorf("%s is not lowered; run `opal lower` first", args[0])
	}
	tgt, ok := target.Preset(execTargetName)
	if !ok {
		return fmt.Errorf("unknown target %q (run `opal targets` for the presets)", execTargetName)
	}
	if int64(tgt.PtrSize) != b.Table.PtrSize() {
		return fmt.Errorf("target %s has %d-byte pointers but the artifact was lowered for %d-byte pointers",
			tgt.Triple, tgt.PtrSize, b.Table.PtrSize())
	}

	vals := make([]uint64, 0, len(args)-2)
	for _, a := range args[2:] {
		v, err := parseWord(a)
		if err != nil {
			return fmt.Errorf("argument %q: %w", a, err)
		}
		vals = append(vals, v)
	}

	m, err := interp.New(b.Module, b.Types, b.Classes, tgt, b.Table, interp.Options{
		PoisonAllocs: execPoison,
		MaxSteps:     execMaxSteps,
	})
	if err != nil {
		return err
	}
	ret, err := m.Exec(args[1], vals)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d (0x%x)\n", int64(ret), ret)
	return nil
}

func parseWord(s string) (uint64, error) {
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 0, 64)
		return uint64(v), err
	}
	return strconv.ParseUint(s, 0, 64)
}
