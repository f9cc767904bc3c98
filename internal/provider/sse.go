// ABOUTME: Server-Sent Events reader used by the streaming HTTP adapters
// ABOUTME: Yields the payload of each data: line and drives a per-provider decoder

package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

const maxSSELine = 1 << 20

// SSEScanner scans Server-Sent Events streams.
type SSEScanner struct {
	scanner *bufio.Scanner
	data    string
	err     error
}

// NewSSEScanner creates a scanner over r. Lines up to 1 MiB are accepted.
func NewSSEScanner(r io.Reader) *SSEScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return &SSEScanner{scanner: scanner}
}

// Scan advances to the next data line.
func (s *SSEScanner) Scan() bool {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			s.data = string(bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:"))))
			return true
		}
	}
	s.err = s.scanner.Err()
	return false
}

// Data returns the current event payload.
func (s *SSEScanner) Data() string {
	return s.data
}

// Err returns any scanning error.
func (s *SSEScanner) Err() error {
	return s.err
}

// sseDecoder turns one data payload into a fragment. done reports an explicit
// end-of-stream marker; err reports a fault carried inside the stream.
type sseDecoder func(data string) (text string, done bool, err error)

// pumpSSE reads body until it ends, a decoder reports done/err, or ctx is cancelled.
// It owns body and out.
func pumpSSE(ctx context.Context, body io.ReadCloser, out chan<- Chunk, decode sseDecoder) {
	defer close(out)
	defer func() { _ = body.Close() }()

	scanner := NewSSEScanner(body)
	for scanner.Scan() {
		text, done, err := decode(scanner.Data())
		if err != nil {
			emit(ctx, out, Chunk{Err: err})
			return
		}
		if text != "" {
			if !emit(ctx, out, Chunk{Text: text}) {
				return
			}
		}
		if done {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		emit(ctx, out, Chunk{Err: fmt.Errorf("reading stream: %w", err)})
	}
}
