package testr

import (
	"errors"
	"io"
	"os"

	"github.com/ethereum-optimism/op-testr/reporting"
	"github.com/ethereum-optimism/op-testr/stream"
	"github.com/ethereum-optimism/op-testr/trace"
	"github.com/ethereum-optimism/op-testr/types"
	"github.com/ethereum-optimism/op-testr/ui"
)

// RenderHTML reads the result stream in input and writes an HTML report of it
// to output. A malformed stream still produces a report of the results read
// before the bad record, and the format error is returned.
func RenderHTML(input, output, title string) error {
	if output == "" {
		output = reporting.HTMLResultsFilename
	}
	f, err := os.Open(input)
	if err != nil {
		return types.NewConfigurationError(err, "cannot open result stream %s", input)
	}
	defer f.Close()

	renderer, err := reporting.NewHTMLRenderer(reporting.HTMLOptions{Title: title})
	if err != nil {
		return NewRuntimeError(err)
	}
	agg := trace.New(ui.NewNullWriter(io.Discard), trace.Options{}, renderer)
	summary, consumeErr := agg.Run(stream.NewDecoder(f))
	if consumeErr != nil && !stream.IsFormatError(consumeErr) {
		return NewRuntimeError(consumeErr)
	}
	if summary != nil {
		renderer.SetPassed(summary.Successful())
	}

	if err := renderer.WriteFile(output); err != nil {
		return errors.Join(consumeErr, NewRuntimeError(err))
	}
	return consumeErr
}
