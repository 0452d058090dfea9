package cmd

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	"github.com/deploymenttheory/go-droidimg/internal/services"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// newProgressBar returns a percentage callback drawing an mpb bar on
// stderr, and a func to call once the operation returns. Without a
// terminal, or with --quiet, the callback is nil.
func newProgressBar(label string) (types.ProgressFunc, func()) {
	if quiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil, func() {}
	}

	p := mpb.New(mpb.WithWidth(60), mpb.WithOutput(os.Stderr))
	bar := p.Add(100,
		mpb.NewBarFiller(mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|")),
		mpb.PrependDecorators(
			decor.Name(label, decor.WC{W: len(label) + 1, C: decor.DidentRight}),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "done"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)

	progress, stop := services.AsyncProgress(func(percent int) {
		bar.SetCurrent(int64(percent))
	})
	return progress, func() {
		stop()
		if !bar.Completed() {
			bar.Abort(false)
		}
		p.Wait()
	}
}
