package sim

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/snow.eliminator/internal/scan"
)

// Scanner replays a fixed sequence of frames as a range scanner.
type Scanner struct {
	mu          sync.Mutex
	rec         *Recorder
	frames      []scan.Frame
	next        int
	disconnects int

	// Interval paces frame delivery when positive.
	Interval time.Duration
	// Loop restarts the replay from the first frame instead of ending.
	Loop bool
	// Hold blocks at the end of the replay until the context is cancelled
	// instead of returning io.EOF.
	Hold bool
	// FailAt makes the FailAt-th call to Next (1-based) return FailErr.
	FailAt  int
	FailErr error
	// OnNext is called at the start of every Next call with its 1-based index.
	OnNext func(call int)

	calls int
}

// NewScanner returns a scanner replaying frames.
func NewScanner(rec *Recorder, frames ...scan.Frame) *Scanner {
	return &Scanner{rec: rec, frames: frames}
}

// Next returns the next frame, io.EOF when the replay is over, or the
// context error once ctx is done.
func (s *Scanner) Next(ctx context.Context) (scan.Frame, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	hook := s.OnNext
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.disconnects > 0 {
		s.mu.Unlock()
		return nil, io.EOF
	}
	if s.FailAt > 0 && call == s.FailAt {
		err := s.FailErr
		s.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("simulated scanner fault")
		}
		return nil, err
	}
	if s.next >= len(s.frames) && s.Loop && len(s.frames) > 0 {
		s.next = 0
	}
	if s.next >= len(s.frames) {
		hold := s.Hold
		s.mu.Unlock()
		if hold {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	interval := s.Interval
	s.mu.Unlock()

	if interval > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return f, nil
}

// Disconnect releases the simulated device. Further Next calls return io.EOF.
func (s *Scanner) Disconnect() error {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
	s.rec.record("scanner:disconnect")
	return nil
}

// Disconnects returns how many times Disconnect was called.
func (s *Scanner) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

// Calls returns how many times Next was called.
func (s *Scanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LoadFrames reads JSON-lines fixtures: one frame per line, each a JSON
// array of {"quality","angle","distance"} objects. Blank lines and lines
// starting with '#' are skipped.
func LoadFrames(path string) ([]scan.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures file: %w", err)
	}
	defer f.Close()
	return ReadFrames(f)
}

// ReadFrames parses JSON-lines fixtures from r.
func ReadFrames(r io.Reader) ([]scan.Frame, error) {
	var frames []scan.Frame
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Bytes()
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		var frame scan.Frame
		if err := json.Unmarshal(text, &frame); err != nil {
			return nil, fmt.Errorf("line %d: failed to parse frame: %w", line, err)
		}
		frames = append(frames, frame)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return frames, nil
}
