package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const processName = "linkd"

// Attributes promoted from key=value pairs into the line header.
const (
	keyComponent = "component"
	keyOp        = "op"
	keyOpID      = "op_id"
)

// opIDLen is how much of an operation id the header shows.
const opIDLen = 8

// ConsoleHandler is a slog.Handler that writes one human-readable line per
// record:
//
//	2026-01-02T03:04:05Z linkd[42]: [debug] platform enslave#1b4e28ba: message key=value
type ConsoleHandler struct {
	opts  slog.HandlerOptions
	out   io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
}

// NewConsoleHandler creates a new ConsoleHandler.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ConsoleHandler{
		out:  out,
		opts: *opts,
		mu:   &sync.Mutex{},
	}
}

// Enabled reports whether the handler is enabled for this level.
func (h *ConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

// header collects the promoted attributes; record attributes win over
// handler attributes.
type header struct {
	component, op, opID string
}

func (hd *header) take(a slog.Attr) bool {
	switch a.Key {
	case keyComponent:
		hd.component = strings.ToLower(a.Value.String())
	case keyOp:
		hd.op = a.Value.String()
	case keyOpID:
		hd.opID = a.Value.String()
	default:
		return false
	}
	return true
}

func (hd *header) append(buf []byte) []byte {
	if hd.component == "" && hd.op == "" {
		return buf
	}
	buf = append(buf, hd.component...)
	if hd.op != "" {
		if hd.component != "" {
			buf = append(buf, ' ')
		}
		buf = append(buf, hd.op...)
		if id := hd.opID; id != "" {
			if len(id) > opIDLen {
				id = id[:opIDLen]
			}
			buf = append(buf, '#')
			buf = append(buf, id...)
		}
	}
	return append(buf, ": "...)
}

// Handle handles the Record.
func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := make([]byte, 0, 512)

	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	buf = append(buf, t.Format(time.RFC3339)...)
	buf = fmt.Appendf(buf, " %s[%d]: [%s] ", processName, os.Getpid(), strings.ToLower(r.Level.String()))

	var hd header
	var rest []slog.Attr
	for _, a := range h.attrs {
		if !hd.take(a) {
			rest = append(rest, a)
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if !hd.take(a) {
			rest = append(rest, a)
		}
		return true
	})

	buf = hd.append(buf)
	buf = append(buf, r.Message...)
	for _, a := range rest {
		buf = append(buf, ' ')
		buf = appendAttr(buf, a)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func appendAttr(buf []byte, a slog.Attr) []byte {
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	val := a.Value.String()
	if val == "" || strings.ContainsAny(val, " \t\n\"=") {
		return fmt.Appendf(buf, "%q", val)
	}
	return append(buf, val...)
}

// WithAttrs returns a new handler with the given attributes.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ConsoleHandler{
		opts:  h.opts,
		out:   h.out,
		mu:    h.mu,
		attrs: merged,
	}
}

// WithGroup returns the handler unchanged; console output is flat.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	return h
}
