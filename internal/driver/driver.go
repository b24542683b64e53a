// Package driver orchestrates a whole lowering run: load an artifact, lower
// every function, populate and patch the vtables, validate and emit. The
// per-function phase runs in parallel; everything the functions share (the
// request registry, the layout cache) is synchronized by its own package.
package driver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"opal/internal/artifact"
	"opal/internal/ir"
	"opal/internal/layout"
	"opal/internal/lower"
	"opal/internal/observ"
	"opal/internal/pipeline"
	"opal/internal/target"
	"opal/internal/trace"
	"opal/internal/vtable"
)

// Options configures one Compile run.
type Options struct {
	Target target.Target
	// Jobs bounds the lowering parallelism; 0 means GOMAXPROCS.
	Jobs int
	// NoCache skips the disk cache on both ends.
	NoCache bool
	// CacheDir overrides the cache location (tests); empty uses the
	// standard user cache directory.
	CacheDir string
	// Validate runs the lowered-form validator on every function before
	// emission.
	Validate bool
	Progress pipeline.ProgressSink
	Tracer   trace.Tracer
}

// Result reports what one Compile run produced.
type Result struct {
	Bundle *artifact.Bundle
	Stats  Stats
	// Cached is set when the lowered artifact came straight from the disk
	// cache.
	Cached  bool
	Timings pipeline.Timings
	Report  observ.Report
}

// Compile lowers the artifact at inPath and writes the lowered artifact to
// outPath.
func Compile(ctx context.Context, inPath, outPath string, opts Options) (*Result, error) {
	if err := opts.Target.Validate(); err != nil {
		return nil, err
	}
	timer := observ.NewTimer()
	res := &Result{}
	emit := func(e pipeline.Event) {
		if opts.Progress != nil {
			opts.Progress.OnEvent(e)
		}
	}

	raw, err := os.ReadFile(inPath)
	if err != nil {
		return nil, err
	}
	key := cacheKey(raw, opts.Target)

	var cache *DiskCache
	if !opts.NoCache {
		cache, err = OpenDiskCache("opal", opts.CacheDir)
		if err != nil {
			// A broken cache dir must not fail the build.
			cache = nil
		}
		if b, ok := cacheLookup(cache, key); ok {
			if err := artifact.Save(outPath, b); err != nil {
				return nil, err
			}
			res.Bundle = b
			res.Cached = true
			res.Stats = collectStats(b)
			res.Report = timer.Report()
			return res, nil
		}
	}

	phase := timer.Begin(string(pipeline.StageLoad))
	emit(pipeline.Event{Stage: pipeline.StageLoad, Status: pipeline.StatusWorking})
	bundle, err := artifact.Decode(bytes.NewReader(raw))
	if err != nil {
		emit(pipeline.Event{Stage: pipeline.StageLoad, Status: pipeline.StatusError, Err: err})
		return nil, err
	}
	timer.End(phase, bundle.Module.Name)
	emit(pipeline.Event{Stage: pipeline.StageLoad, Status: pipeline.StatusDone})
	if bundle.Table != nil {
		return nil, fmt.Errorf("driver: %s is already lowered", inPath)
	}

	lctx := &lower.Context{
		Types:    bundle.Types,
		Classes:  bundle.Classes,
		Layout:   layout.New(opts.Target, bundle.Types, bundle.Classes),
		Reg:      vtable.NewRegistry(),
		Target:   opts.Target,
		Resolver: lower.CHAResolver{Classes: bundle.Classes},
		Tracer:   opts.Tracer,
	}

	phase = timer.Begin(string(pipeline.StageLower))
	if err := lowerAll(ctx, lctx, bundle.Module, opts.Jobs, opts.Progress); err != nil {
		return nil, err
	}
	timer.End(phase, fmt.Sprintf("%d functions", len(bundle.Module.Funcs)))

	phase = timer.Begin(string(pipeline.StageTables))
	emit(pipeline.Event{Stage: pipeline.StageTables, Status: pipeline.StatusWorking})
	if err := lower.Scavenge(lctx, bundle.Module); err != nil {
		return nil, err
	}
	table, err := vtable.Populate(lctx.Reg, int64(opts.Target.PtrSize))
	if err != nil {
		return nil, err
	}
	if err := lower.Patch(bundle.Module, table); err != nil {
		return nil, err
	}
	bundle.Table = table
	timer.End(phase, fmt.Sprintf("%d requests", lctx.Reg.Len()))
	emit(pipeline.Event{Stage: pipeline.StageTables, Status: pipeline.StatusDone})

	if opts.Validate {
		for _, f := range bundle.Module.Funcs {
			if err := ir.ValidateLowered(f); err != nil {
				return nil, fmt.Errorf("driver: %s: %w", f.Name, err)
			}
		}
	}

	phase = timer.Begin(string(pipeline.StageEmit))
	emit(pipeline.Event{Stage: pipeline.StageEmit, Status: pipeline.StatusWorking})
	if err := artifact.Save(outPath, bundle); err != nil {
		emit(pipeline.Event{Stage: pipeline.StageEmit, Status: pipeline.StatusError, Err: err})
		return nil, err
	}
	timer.End(phase, outPath)
	emit(pipeline.Event{Stage: pipeline.StageEmit, Status: pipeline.StatusDone})

	cacheStore(cache, key, bundle, opts.Target)

	res.Bundle = bundle
	res.Stats = collectStats(bundle)
	res.Report = timer.Report()
	for _, p := range res.Report.Phases {
		res.Timings.Set(pipeline.Stage(p.Name), durationFromMillis(p.DurationMS))
	}
	return res, nil
}

func durationFromMillis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
