package redact

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Printer writes redacted text to an underlying writer.
// Its rules are fixed at construction.
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	rules []Rule
}

// NewPrinter returns a Printer writing to out.
func NewPrinter(out io.Writer, rules ...Rule) *Printer {
	return &Printer{
		out:   out,
		rules: append([]Rule(nil), rules...),
	}
}

// Rules returns a copy of the printer's rules.
func (p *Printer) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// Redact applies the printer's rules to items without
// writing anything.
func (p *Printer) Redact(items ...string) []string {
	return Redact(p.rules, items...)
}

// Print redacts items and writes them separated by a
// single space. No newline is added.
func (p *Printer) Print(items ...string) error {
	return p.write(items, "")
}

// Println is like Print but ends the output with a
// newline.
func (p *Printer) Println(items ...string) error {
	return p.write(items, "\n")
}

func (p *Printer) write(items []string, end string) error {
	const errCtx = "printing redacted output"

	text := strings.Join(p.Redact(items...), " ") + end

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := io.WriteString(p.out, text); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}
