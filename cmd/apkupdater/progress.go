package main

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/EikeiDev/apkupdateross/internal/progress"
)

// progressView draws a byte progress bar on an interactive stderr and stays
// silent otherwise. The bar is created on the first event so a known total
// gets a real bar and an unknown one a spinner.
type progressView struct {
	description string
	enabled     bool
	bar         *progressbar.ProgressBar
}

func newProgressView(description string) *progressView {
	return &progressView{
		description: description,
		enabled:     term.IsTerminal(int(os.Stderr.Fd())),
	}
}

func (v *progressView) update(p progress.Progress) {
	if !v.enabled {
		return
	}
	if v.bar == nil {
		limit := int64(-1)
		if p.Total > 0 {
			limit = p.Total
		}
		v.bar = progressbar.NewOptions64(limit,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(v.description),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	} else if p.Total > 0 {
		v.bar.ChangeMax64(p.Total)
	}
	v.bar.Set64(p.Transferred)
}

func (v *progressView) finish() {
	if v.bar != nil {
		v.bar.Exit()
	}
}
