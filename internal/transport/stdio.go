package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/scholarmcp/scholarmcp/internal/jsonrpc"
	"github.com/scholarmcp/scholarmcp/internal/metrics"
	"github.com/scholarmcp/scholarmcp/internal/tools"
)

// Lines can carry large tool results; allow up to 4 MiB per message.
const stdioMaxLineBytes = 4 * 1024 * 1024

// StdioHandler is a single-connection transport reading line-delimited
// JSON-RPC from stdin and writing responses to stdout. There is no
// session mailbox: a stdio peer never reconnects.
type StdioHandler struct {
	r    io.Reader
	w    io.Writer
	wMu  sync.Mutex
	log  *slog.Logger
	disp *dispatcher
}

// StdioOption configures a StdioHandler.
type StdioOption func(*StdioHandler)

// WithStdioIO overrides the input and output streams, primarily for
// tests.
func WithStdioIO(r io.Reader, w io.Writer) StdioOption {
	return func(h *StdioHandler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithStdioLogger sets the logger. Logs must never go to stdout on
// this transport; callers hand in a stderr-backed logger.
func WithStdioLogger(log *slog.Logger) StdioOption {
	return func(h *StdioHandler) { h.log = log }
}

// NewStdioHandler builds a stdio transport over the given tool
// registry.
func NewStdioHandler(registry *tools.Registry, opts ...StdioOption) *StdioHandler {
	h := &StdioHandler{
		r:   os.Stdin,
		w:   os.Stdout,
		log: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.disp = &dispatcher{log: h.log, met: metrics.Noop(), registry: registry}
	return h
}

func (h *StdioHandler) writeMessage(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.wMu.Lock()
	defer h.wMu.Unlock()
	if _, err := h.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// Serve reads messages until EOF or context cancellation. Malformed
// JSON yields a parse-error response rather than terminating the loop.
func (h *StdioHandler) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(h.r)
	scanner.Buffer(make([]byte, 0, 64*1024), stdioMaxLineBytes)

	h.log.InfoContext(ctx, "stdio.serve.start")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req jsonrpc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			h.log.WarnContext(ctx, "stdio.parse.fail", slog.String("err", err.Error()))
			if werr := h.writeMessage(jsonrpc.NewErrorResponse(nil, jsonrpc.CodeParseError, "Parse error")); werr != nil {
				return fmt.Errorf("writing parse error: %w", werr)
			}
			continue
		}

		resp := h.disp.dispatch(ctx, &req, nil)
		if resp == nil {
			continue
		}
		if err := h.writeMessage(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	h.log.InfoContext(ctx, "stdio.serve.eof")
	return nil
}
