package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ProgressReporter reports progress for long-running passes over entries.
type ProgressReporter interface {
	Start(total int64)
	Update(current int64)
	Finish()
	Error(err error)
}

// SimpleProgress renders a single carriage-return progress line.
type SimpleProgress struct {
	mu      sync.Mutex
	label   string
	total   int64
	current int64
	writer  io.Writer
}

// NewProgressReporter creates a reporter that writes to w, prefixing each
// line with label. A nil w writes to os.Stderr.
func NewProgressReporter(w io.Writer, label string) ProgressReporter {
	if w == nil {
		w = os.Stderr
	}
	return &SimpleProgress{writer: w, label: label}
}

// Start resets the reporter for total entries.
func (p *SimpleProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.current = 0
	p.render()
}

// Update sets the number of entries processed.
func (p *SimpleProgress) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = min(current, p.total)
	p.render()
}

// Finish marks the pass as complete and ends the line.
func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = p.total
	p.render()
	fmt.Fprintln(p.writer)
}

// Error ends the line with err.
func (p *SimpleProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.writer, "\n%s failed: %v\n", p.label, err)
}

func (p *SimpleProgress) render() {
	if p.total <= 0 {
		return
	}
	const width = 30
	filled := int(width * p.current / p.total)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
	fmt.Fprintf(p.writer, "\r%s [%s] %d/%d entries", p.label, bar, p.current, p.total)
}
