package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"opal/internal/driver"
	"opal/internal/target"
	"opal/internal/trace"
)

var (
	lowerOutput     string
	lowerTargetName string
	lowerTargetFile string
	lowerJobs       int
	lowerNoCache    bool
	lowerCacheDir   string
	lowerNoValidate bool
	lowerUI         string
	lowerTraceFile  string
	lowerTraceLevel string
)

func init() {
	lowerCmd.Flags().StringVarP(&lowerOutput, "output", "o", "", "output path (default: input with a .lowered.mpk suffix)")
	lowerCmd.Flags().StringVar(&lowerTargetName, "target", "x86_64", "target preset (x86_64|aarch64|wasm32)")
	lowerCmd.Flags().StringVar(&lowerTargetFile, "target-file", "", "TOML target description, overrides --target")
	lowerCmd.Flags().IntVarP(&lowerJobs, "jobs", "j", 0, "lowering parallelism (0 = all cores)")
	lowerCmd.Flags().BoolVar(&lowerNoCache, "no-cache", false, "skip the lowered-artifact disk cache")
	lowerCmd.Flags().StringVar(&lowerCacheDir, "cache-dir", "", "override the cache directory")
	lowerCmd.Flags().BoolVar(&lowerNoValidate, "no-validate", false, "skip the lowered-form validator before emission")
	lowerCmd.Flags().StringVar(&lowerUI, "ui", "auto", "progress display (auto|on|off)")
	lowerCmd.Flags().StringVar(&lowerTraceFile, "trace", "", "write trace events to a file (- for stderr, .ndjson for JSON lines)")
	lowerCmd.Flags().StringVar(&lowerTraceLevel, "trace-level", "phase", "trace verbosity (off|error|phase|detail|debug)")
}

var lowerCmd = &cobra.Command{
	Use:   "lower [flags] <artifact>",
	Short: "Lower an object-model artifact",
	Long: "Lower replaces object operations with raw memory operations and vtable dispatch,\n" +
		"then emits a self-contained lowered artifact for the chosen target.",
	Args: cobra.ExactArgs(1),
	RunE: runLower,
}

func runLower(cmd *cobra.Command, args []string) error {
	inPath := args[0]
	outPath := lowerOutput
	if outPath == "" {
		outPath = defaultOutputPath(inPath)
	}

	tgt, err := resolveTarget(lowerTargetName, lowerTargetFile)
	if err != nil {
		return err
	}
	uiModeValue, err := readUIMode(lowerUI)
	if err != nil {
		return err
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return err
	}
	timings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return err
	}

	opts := driver.Options{
		Target:   tgt,
		Jobs:     lowerJobs,
		NoCache:  lowerNoCache,
		CacheDir: lowerCacheDir,
		Validate: !lowerNoValidate,
	}
	if lowerTraceFile != "" {
		level, err := trace.ParseLevel(lowerTraceLevel)
		if err != nil {
			return err
		}
		tracer, err := trace.New(trace.Config{
			Level:      level,
			Mode:       trace.ModeStream,
			OutputPath: lowerTraceFile,
		})
		if err != nil {
			return err
		}
		defer tracer.Close()
		opts.Tracer = tracer
	}

	var res *driver.Result
	if shouldUseTUI(uiModeValue) && !quiet {
		res, err = runLowerWithUI(cmd.Context(), "lowering "+inPath, inPath, outPath, opts)
	} else {
		res, err = driver.Compile(cmd.Context(), inPath, outPath, opts)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !quiet {
		if res.Cached {
			fmt.Fprintf(out, "%s (cached)\n", res.Stats.Summary())
		} else {
			fmt.Fprintln(out, res.Stats.Summary())
		}
		fmt.Fprintf(out, "wrote %s\n", outPath)
	}
	if timings {
		for _, p := range res.Report.Phases {
			fmt.Fprintf(out, "  %-10s %8.2f ms  %s\n", p.Name, p.DurationMS, p.Note)
		}
	}
	return nil
}

// defaultOutputPath derives the lowered artifact's path from the input path.
func defaultOutputPath(inPath string) string {
	if base, ok := strings.CutSuffix(inPath, ".mpk"); ok {
		return base + ".lowered.mpk"
	}
	return inPath + ".lowered.mpk"
}

func resolveTarget(name, file string) (target.Target, error) {
	if file != "" {
		return target.LoadFile(file)
	}
	t, ok := target.Preset(name)
	if !ok {
		return target.Target{}, fmt.Errorf("unknown target %q (run `opal targets` for the presets)", name)
	}
	return t, nil
}
