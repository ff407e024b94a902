package main

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

const progressSteps = 1000

// barSink draws upload progress on a terminal progress bar.
type barSink struct {
	bar *progressbar.ProgressBar
}

func newBarSink(w io.Writer, description string) *barSink {
	bar := progressbar.NewOptions(progressSteps,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &barSink{bar: bar}
}

func (s *barSink) Report(progress float64) {
	_ = s.bar.Set(int(progress * progressSteps))
}
