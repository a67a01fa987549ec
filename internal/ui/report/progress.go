package report

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// Progress is a determinate progress bar.
type Progress struct {
	bar *progressbar.ProgressBar
}

// NewProgress creates a progress bar writing to w.
func NewProgress(w io.Writer, total int, description string) *Progress {
	bar := progressbar.NewOptions(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &Progress{bar: bar}
}

// Set moves the bar to n.
func (p *Progress) Set(n int) {
	_ = p.bar.Set(n)
}

// Describe replaces the bar's description.
func (p *Progress) Describe(s string) {
	p.bar.Describe(s)
}

// Finish completes the bar.
func (p *Progress) Finish() {
	_ = p.bar.Finish()
}
