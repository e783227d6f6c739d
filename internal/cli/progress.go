package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"
)

// Progress draws a progress bar for a task whose size is only known once it
// starts, such as reading the rows of a workbook.
type Progress struct {
	bar         *progressbar.ProgressBar
	writer      io.Writer
	description string
}

// NewProgress creates a progress bar writing to w. Nothing is drawn until the
// first Update.
func NewProgress(w io.Writer, description string) *Progress {
	return &Progress{writer: w, description: description}
}

// Update moves the bar to done out of total.
func (p *Progress) Update(done, total int) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.writer),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan][bold]"+p.description+"[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				if _, err := fmt.Fprintln(p.writer); err != nil {
					slog.Warn("Failed to write newline after progress bar", "error", err)
				}
			}),
		)
	}
	if err := p.bar.Set(done); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Done reports whether the bar has reached its total.
func (p *Progress) Done() bool {
	return p.bar != nil && p.bar.IsFinished()
}
