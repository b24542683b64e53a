package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"opal/internal/artifact"
	"opal/internal/driver"
	"opal/internal/pipeline"
	"opal/internal/ui"
)

type lowerOutcome struct {
	result *driver.Result
	err    error
}

func runLowerWithUI(ctx context.Context, title, inPath, outPath string, opts driver.Options) (*driver.Result, error) {
	names, err := funcNames(inPath)
	if err != nil {
		return nil, err
	}
	events := make(chan pipeline.Event, 256)
	outcomeCh := make(chan lowerOutcome, 1)

	go func() {
		optsCopy := opts
		optsCopy.Progress = pipeline.ChannelSink{Ch: events}
		res, err := driver.Compile(ctx, inPath, outPath, optsCopy)
		outcomeCh <- lowerOutcome{result: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, names, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}

// funcNames peeks into the artifact for the progress rows. The driver reads
// the file again on its own; artifacts are small enough that the double read
// does not matter.
func funcNames(path string) ([]string, error) {
	b, err := artifact.Load(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(b.Module.Funcs))
	for _, f := range b.Module.Funcs {
		if f != nil {
			names = append(names, f.Name)
		}
	}
	return names, nil
}
