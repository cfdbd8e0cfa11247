package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Bar counts exported records. A max below one draws a spinner, used for
// tables whose size the backend does not report.
type Bar struct {
	*progressbar.ProgressBar
}

func NewBar(max int64, description string, out io.Writer) *Bar {
	if out == nil {
		out = os.Stderr
	}
	if max < 1 {
		max = -1
	}
	bar := progressbar.NewOptions64(max,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("records"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(out)
		}),
	)

	return &Bar{ProgressBar: bar}
}

func (b *Bar) IncrementBy(amount int64) {
	b.Add64(amount)
}

// Page updates the description with the page being fetched.
func (b *Bar) Page(table string, page int) {
	b.Describe(fmt.Sprintf("%s page %d", table, page))
}

func (b *Bar) Finish() {
	if b.ProgressBar == nil {
		return
	}
	b.ProgressBar.Finish()
}
