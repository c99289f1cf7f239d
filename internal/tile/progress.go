package tile

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressWidth    = 30
	progressInterval = 200 * time.Millisecond
)

// progressBar redraws one terminal line per zoom level while workers
// report finished tiles.
type progressBar struct {
	out   io.Writer
	label string
	total int64
	start time.Time

	done atomic.Int64

	stop    chan struct{}
	stopped sync.WaitGroup
	mu      sync.Mutex
}

func newProgressBar(out io.Writer, label string, total int64) *progressBar {
	pb := &progressBar{
		out:   out,
		label: label,
		total: total,
		start: time.Now(),
		stop:  make(chan struct{}),
	}
	pb.stopped.Add(1)
	go pb.loop()
	return pb
}

// Increment records one finished tile. Safe for concurrent use.
func (pb *progressBar) Increment() {
	pb.done.Add(1)
}

// Finish stops redrawing, draws the final state, and ends the line.
func (pb *progressBar) Finish() {
	close(pb.stop)
	pb.stopped.Wait()
	pb.draw()
	fmt.Fprintln(pb.out)
}

func (pb *progressBar) loop() {
	defer pb.stopped.Done()
	t := time.NewTicker(progressInterval)
	defer t.Stop()
	for {
		select {
		case <-pb.stop:
			return
		case <-t.C:
			pb.draw()
		}
	}
}

func (pb *progressBar) draw() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	fmt.Fprintf(pb.out, "\r%s\033[K", pb.line(pb.done.Load(), time.Since(pb.start)))
}

// line renders the bar for done of total tiles after elapsed.
func (pb *progressBar) line(done int64, elapsed time.Duration) string {
	frac := 1.0
	if pb.total > 0 {
		frac = min(float64(done)/float64(pb.total), 1)
	}
	n := int(frac * progressWidth)
	bar := strings.Repeat("=", n) + strings.Repeat(" ", progressWidth-n)

	eta := "--"
	if done > 0 && done < pb.total {
		left := time.Duration(float64(elapsed) / float64(done) * float64(pb.total-done))
		eta = formatDuration(left)
	}
	return fmt.Sprintf("%s [%s] %3.0f%% %d/%d tiles, %s elapsed, eta %s",
		pb.label, bar, frac*100, done, pb.total, formatDuration(elapsed), eta)
}

// formatDuration renders d as "45s" or "1m23s".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	return fmt.Sprintf("%dm%02ds", m, int(d.Seconds())-m*60)
}
