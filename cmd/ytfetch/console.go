package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/ytget/ytfetch/catalog"
	"github.com/ytget/ytfetch/types"
)

const separatorWidth = 40

type summary struct {
	complete, skipped, failed int
	bytes                     int64
}

func summarize(outs []types.Outcome) summary {
	var s summary
	for _, o := range outs {
		switch o.State {
		case types.StateComplete:
			s.complete++
			s.bytes += o.Bytes
		case types.StateSkipped:
			s.skipped++
		case types.StateFailed:
			s.failed++
		}
	}
	return s
}

// console prints per-video notices and download progress bars.
type console struct {
	out, errOut io.Writer
	bars        bool
	quiet       bool

	mu     sync.Mutex
	active map[string]*progressbar.ProgressBar
}

func newConsole(out, errOut io.Writer, bars, quiet bool) *console {
	return &console{out: out, errOut: errOut, bars: bars, quiet: quiet, active: make(map[string]*progressbar.ProgressBar)}
}

func (c *console) state(o types.Outcome) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	name := o.Title
	if name == "" {
		name = o.VideoID
	}
	switch o.State {
	case types.StatePending:
		fmt.Fprintln(c.out, strings.Repeat("-", separatorWidth))
		if o.Index > 0 {
			fmt.Fprintf(c.out, "[%d] %s\n", o.Index, name)
		}
	case types.StateSkipped:
		fmt.Fprintf(c.out, "%s already exists.\n", filepath.Base(o.Path))
	case types.StateMerging:
		fmt.Fprintf(c.out, "Merging video and audio for %s\n", name)
	case types.StateComplete:
		fmt.Fprintf(c.out, "Saved: %s (%s)\n", o.Path, humanize.IBytes(uint64(o.Bytes)))
	case types.StateFailed:
		fmt.Fprintf(c.errOut, "Error downloading %s: %s\n", name, o.Error)
	}
}

func (c *console) progress(p catalog.Progress) {
	if !c.bars {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := p.Stream.VideoID + "/" + p.Stream.ID
	bar, ok := c.active[key]
	if !ok {
		total := p.Total
		if total <= 0 {
			total = -1
		}
		bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(c.errOut),
			progressbar.OptionSetDescription(describe(p.Stream)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		c.active[key] = bar
	}
	_ = bar.Set64(p.Downloaded)
	if p.Total > 0 && p.Downloaded >= p.Total {
		_ = bar.Finish()
		delete(c.active, key)
	}
}

func (c *console) summary(s summary, elapsed time.Duration) {
	fmt.Fprintln(c.out, strings.Repeat("-", separatorWidth))
	fmt.Fprintf(c.out, "Done in %s: %d downloaded (%s), %d skipped, %d failed\n",
		elapsed.Round(time.Second), s.complete, humanize.IBytes(uint64(s.bytes)), s.skipped, s.failed)
}

func describe(s types.StreamDescriptor) string {
	switch s.Kind {
	case types.AudioOnly:
		return "audio"
	case types.VideoOnly:
		return "video " + s.Resolution.String()
	default:
		return s.Resolution.String()
	}
}
