package sequence

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Callback receives progress events during a run. OnFrame is invoked after
// each item's traversal with a nil error on success, the *ApplyError or
// *LoadError otherwise.
type Callback interface {
	OnStart(total int)
	OnFrame(current, total int, id string, err error)
	OnComplete(report *Report)
}

// NoOpCallback implements Callback and does nothing. Useful as a default.
type NoOpCallback struct{}

func (NoOpCallback) OnStart(total int)                              {}
func (NoOpCallback) OnFrame(current, total int, id string, _ error) {}
func (NoOpCallback) OnComplete(*Report)                             {}

// ConsoleCallback draws a progress bar on the console, tracking failures.
type ConsoleCallback struct {
	writer         io.Writer
	prefix         string
	width          int
	updateInterval time.Duration

	mutex      sync.Mutex
	startTime  time.Time
	lastUpdate time.Time
	failed     int
}

// NewConsoleCallback creates a console progress reporter. A nil writer
// defaults to stderr.
func NewConsoleCallback(writer io.Writer, prefix string) *ConsoleCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleCallback{
		writer:         writer,
		prefix:         prefix,
		width:          40,
		updateInterval: 100 * time.Millisecond,
	}
}

// WithWidth sets the progress bar width.
func (c *ConsoleCallback) WithWidth(width int) *ConsoleCallback {
	c.width = width
	return c
}

func (c *ConsoleCallback) OnStart(total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	c.failed = 0
	_, _ = fmt.Fprintf(c.writer, "%s0/%d\n", c.prefix, total)
}

func (c *ConsoleCallback) OnFrame(current, total int, id string, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err != nil {
		c.failed++
		_, _ = fmt.Fprintf(c.writer, "\n%s%s: %v\n", c.prefix, id, err)
	}

	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && current < total {
		return
	}
	c.lastUpdate = now
	c.drawBar(current, total, now)
}

func (c *ConsoleCallback) OnComplete(report *Report) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	elapsed := time.Since(c.startTime)
	_, _ = fmt.Fprintf(c.writer, "\n%s%d ok, %d failed in %v\n",
		c.prefix, report.Succeeded, report.Failed, elapsed.Round(time.Millisecond))
}

func (c *ConsoleCallback) drawBar(current, total int, now time.Time) {
	if total == 0 {
		return
	}
	percent := float64(current) / float64(total) * 100.0
	filled := c.width * current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)

	status := fmt.Sprintf("\r%s[%s] %d/%d (%.1f%%)", c.prefix, bar, current, total, percent)
	if c.failed > 0 {
		status += fmt.Sprintf(" %d failed", c.failed)
	}
	if elapsed := now.Sub(c.startTime); elapsed > 0 && current > 0 && current < total {
		etaSeconds := elapsed.Seconds() * float64(total-current) / float64(current)
		status += fmt.Sprintf(" ETA: %v", (time.Duration(etaSeconds) * time.Second).Round(time.Second))
	}
	_, _ = fmt.Fprint(c.writer, status)
}

// LogCallback reports progress through slog.
type LogCallback struct {
	logger   *slog.Logger
	level    slog.Level
	interval int // log every N frames

	lastLog   int
	startTime time.Time
}

// NewLogCallback creates a log-based progress reporter. A nil logger
// defaults to slog.Default().
func NewLogCallback(logger *slog.Logger, level slog.Level) *LogCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCallback{logger: logger, level: level, interval: 10}
}

// WithInterval sets how frequently progress is logged (every N frames).
func (l *LogCallback) WithInterval(interval int) *LogCallback {
	if interval > 0 {
		l.interval = interval
	}
	return l
}

func (l *LogCallback) OnStart(total int) {
	l.startTime = time.Now()
	l.lastLog = 0
	l.logger.Log(nil, l.level, "sequence run starting", "total", total)
}

func (l *LogCallback) OnFrame(current, total int, id string, err error) {
	if err != nil {
		l.logger.Log(nil, slog.LevelWarn, "frame failed", "frame", id, "error", err)
	}
	if current-l.lastLog >= l.interval || current == total {
		l.lastLog = current
		elapsed := time.Since(l.startTime)
		l.logger.Log(nil, l.level, "sequence progress",
			"current", current,
			"total", total,
			"rate", fmt.Sprintf("%.1f/s", float64(current)/elapsed.Seconds()),
			"elapsed", elapsed.Round(time.Millisecond),
		)
	}
}

func (l *LogCallback) OnComplete(report *Report) {
	l.logger.Log(nil, l.level, "sequence run completed",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"elapsed", time.Duration(report.ElapsedNs).Round(time.Millisecond))
}

// MultiCallback fans events out to several callbacks.
type MultiCallback struct {
	callbacks []Callback
}

// NewMultiCallback creates a callback reporting to every given callback.
func NewMultiCallback(callbacks ...Callback) *MultiCallback {
	return &MultiCallback{callbacks: callbacks}
}

func (m *MultiCallback) OnStart(total int) {
	for _, cb := range m.callbacks {
		cb.OnStart(total)
	}
}

func (m *MultiCallback) OnFrame(current, total int, id string, err error) {
	for _, cb := range m.callbacks {
		cb.OnFrame(current, total, id, err)
	}
}

func (m *MultiCallback) OnComplete(report *Report) {
	for _, cb := range m.callbacks {
		cb.OnComplete(report)
	}
}
