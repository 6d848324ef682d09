package sinks

import (
	"context"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/page-downloader/internal/progress"
)

// BarSink advances a terminal progress bar once per finished job.
type BarSink struct {
	bar    *progressbar.ProgressBar
	failed int
}

// NewBarSink renders a bar sized for total jobs to w. A total of -1 renders
// an open-ended spinner.
func NewBarSink(w io.Writer, total int, description string) *BarSink {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(w)
		}),
	)
	return &BarSink{bar: bar}
}

// Consume advances the bar for every terminal event in batch.
func (s *BarSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if !evt.Terminal() {
			continue
		}
		if evt.Stage == progress.StageJobError {
			s.failed++
			s.bar.Describe(fmt.Sprintf("downloading (%d failed)", s.failed))
		}
		if err := s.bar.Add(1); err != nil {
			return fmt.Errorf("advance progress bar: %w", err)
		}
	}
	return nil
}

// Failed reports how many finished jobs ended in error.
func (s *BarSink) Failed() int {
	return s.failed
}

// Current reports how many jobs the bar has counted.
func (s *BarSink) Current() int64 {
	return s.bar.State().CurrentNum
}

// Close completes the bar.
func (s *BarSink) Close(context.Context) error {
	if err := s.bar.Finish(); err != nil {
		return fmt.Errorf("finish progress bar: %w", err)
	}
	return nil
}
