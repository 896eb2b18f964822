package capture

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/lorawan-server/lorawan-tester/internal/models"
)

// HexFileOptions describes the record layout of a hex capture file
type HexFileOptions struct {
	// HeaderBytes and TrailerBytes are stripped from every record, e.g. a
	// radio header prepended by the SDR pipeline or a trailing CRC
	HeaderBytes  int `yaml:"header_bytes"`
	TrailerBytes int `yaml:"trailer_bytes"`
}

// HexFileSource reads one hex encoded frame per line. Blank lines and lines
// starting with '#' are ignored; spaces and colons between bytes are allowed.
type HexFileSource struct {
	name    string
	scanner *bufio.Scanner
	closer  io.Closer
	opts    HexFileOptions
	line    int
}

// NewHexFileSource reads records from r
func NewHexFileSource(name string, r io.Reader, opts HexFileOptions) *HexFileSource {
	s := &HexFileSource{
		name:    name,
		scanner: bufio.NewScanner(r),
		opts:    opts,
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenHexFile opens path as a hex capture; "-" reads stdin
func OpenHexFile(path string, opts HexFileOptions) (*HexFileSource, error) {
	if path == "-" {
		return NewHexFileSource("stdin", io.NopCloser(os.Stdin), opts), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return NewHexFileSource(path, f, opts), nil
}

// Next returns the next record
func (s *HexFileSource) Next(ctx context.Context) (models.CapturedFrame, error) {
	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return models.CapturedFrame{}, err
		}
		s.line++

		text := strings.TrimSpace(s.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		b, err := hex.DecodeString(strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(text))
		if err != nil {
			return models.CapturedFrame{}, fmt.Errorf("%w: %s line %d: %v", ErrBadRecord, s.name, s.line, err)
		}
		if len(b) <= s.opts.HeaderBytes+s.opts.TrailerBytes {
			return models.CapturedFrame{}, fmt.Errorf("%w: %s line %d: %d bytes, nothing left after stripping", ErrBadRecord, s.name, s.line, len(b))
		}

		return models.CapturedFrame{
			PHYPayload: b[s.opts.HeaderBytes : len(b)-s.opts.TrailerBytes],
			ReceivedAt: time.Now(),
			Source:     fmt.Sprintf("%s:%d", s.name, s.line),
		}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return models.CapturedFrame{}, fmt.Errorf("read capture: %w", err)
	}
	return models.CapturedFrame{}, io.EOF
}

// Close closes the underlying reader
func (s *HexFileSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
