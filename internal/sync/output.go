package sync

import (
	"fmt"
	"io"
	stdsync "sync"

	"github.com/fatih/color"
)

// printer writes user-facing progress lines; groups print concurrently
type printer struct {
	mu   stdsync.Mutex
	w    io.Writer
	warn *color.Color
}

func newPrinter(w io.Writer) *printer {
	if w == nil {
		w = io.Discard
	}
	return &printer{w: w, warn: color.New(color.FgYellow)}
}

func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) Warnf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.warn.Fprintf(p.w, format+"\n", args...)
}
