package driver

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"opal/internal/ir"
	"opal/internal/lower"
	"opal/internal/pipeline"
)

// lowerAll lowers every function of the module in parallel. Each goroutine
// owns one function; the registry and layout cache are the only shared state
// and synchronize themselves. Results land in per-index slots, so no mutex
// guards the module.
func lowerAll(ctx context.Context, lctx *lower.Context, mod *ir.Module, jobs int, sink pipeline.ProgressSink) error {
	funcs := mod.Funcs
	if len(funcs) == 0 {
		return nil
	}
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	emit := func(e pipeline.Event) {
		if sink != nil {
			sink.OnEvent(e)
		}
	}
	for _, f := range funcs {
		if f != nil {
			emit(pipeline.Event{Func: f.Name, Stage: pipeline.StageLower, Status: pipeline.StatusQueued})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(funcs)))

	for _, f := range funcs {
		if f == nil {
			continue
		}
		g.Go(func(f *ir.Func) func() error {
			return func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				emit(pipeline.Event{Func: f.Name, Stage: pipeline.StageLower, Status: pipeline.StatusWorking})
				start := time.Now()
				if err := lower.Func(lctx, f); err != nil {
					emit(pipeline.Event{
						Func: f.Name, Stage: pipeline.StageLower,
						Status: pipeline.StatusError, Err: err, Elapsed: time.Since(start),
					})
					return err
				}
				emit(pipeline.Event{
					Func: f.Name, Stage: pipeline.StageLower,
					Status: pipeline.StatusDone, Elapsed: time.Since(start),
				})
				return nil
			}
		}(f))
	}
	return g.Wait()
}
