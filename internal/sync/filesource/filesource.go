// Package filesource implements a sync.PrefixSource that tails a file
// (or a named pipe) of newline-delimited JSON prefixes, grounding an
// externally-fed, monotonic prefix stream without requiring a real
// consensus layer — consistent with the spec's "treats prefixes as an
// opaque input stream".
package filesource

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/adred-codev/kvcore/internal/kv"
)

// line is the on-disk JSON shape: {"id":1,"states":[1,2,3]}.
type line struct {
	ID     uint64   `json:"id"`
	States []uint32 `json:"states"`
}

// Source tails path, blocking between polls when it hits EOF rather
// than treating EOF as exhaustion — the same behavior a producer
// appending to a log file or writing into a FIFO expects from its
// reader.
type Source struct {
	reader    *bufio.Reader
	file      *os.File
	pollEvery time.Duration
}

// Open opens path and returns a Source ready to tail it. pollEvery
// controls how often Next retries after hitting EOF; 0 selects a
// 20ms default.
func Open(path string, pollEvery time.Duration) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filesource: open %s: %w", path, err)
	}
	if pollEvery <= 0 {
		pollEvery = 20 * time.Millisecond
	}
	return &Source{reader: bufio.NewReader(f), file: f, pollEvery: pollEvery}, nil
}

// Close releases the underlying file handle.
func (s *Source) Close() error { return s.file.Close() }

// Next reads and decodes the next line, blocking (subject to ctx
// cancellation) until one is available. It never reports exhaustion on
// EOF, since a live feed may still append; callers that want a
// terminating source should close the file and let the next Read
// return a non-EOF error, which Next surfaces as ok=false.
func (s *Source) Next(ctx context.Context) (kv.Prefix, bool) {
	for {
		raw, err := s.reader.ReadBytes('\n')
		if len(raw) > 0 {
			var l line
			if jsonErr := json.Unmarshal(raw, &l); jsonErr != nil {
				continue
			}
			states := make([]kv.MessageID, len(l.States))
			for i, v := range l.States {
				states[i] = kv.MessageID(v)
			}
			return kv.Prefix{ID: l.ID, States: states}, true
		}
		if err == nil {
			continue
		}
		if err == io.EOF {
			select {
			case <-ctx.Done():
				var zero kv.Prefix
				return zero, false
			case <-time.After(s.pollEvery):
				continue
			}
		}
		var zero kv.Prefix
		return zero, false
	}
}
