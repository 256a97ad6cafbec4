package events

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpwatch/mcpwatch-go/internal/config"
)

// Source yields validated events from an observer child process, or
// from in-process pushes when no child path is configured. Malformed
// lines are dropped silently; full queues drop events with a warning
// because the proxy side operates in real time.
type Source struct {
	cfg    *config.EventSourceConfig
	logger *zap.SugaredLogger

	queue chan *Event

	mu      sync.Mutex
	cmd     *exec.Cmd
	running bool
	closed  bool

	// Dropped counts events discarded because the queue was full.
	dropped func()

	// malformed counts rejected observer lines.
	malformed func()
}

// NewSource creates a Source with the given configuration.
func NewSource(cfg *config.EventSourceConfig, logger *zap.SugaredLogger) *Source {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	return &Source{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan *Event, size),
	}
}

// SetDropCallback registers a callback invoked once per dropped event.
func (s *Source) SetDropCallback(fn func()) {
	s.dropped = fn
}

// SetMalformedCallback registers a callback invoked once per rejected
// observer line.
func (s *Source) SetMalformedCallback(fn func()) {
	s.malformed = fn
}

// Events returns the channel of validated events. The channel is
// closed when the external observer terminates or Stop is called.
func (s *Source) Events() <-chan *Event {
	return s.queue
}

// Start launches the observer child process when a path is configured.
// In inline push mode Start is a no-op and callers feed Push directly.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if s.cfg.Path == "" {
		s.logger.Info("event source in inline push mode")
		s.running = true
		return nil
	}

	cmd := exec.CommandContext(ctx, s.cfg.Path, s.cfg.Args...) //nolint:gosec // observer path comes from operator config
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open observer stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open observer stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start observer %s: %w", s.cfg.Path, err)
	}

	s.cmd = cmd
	s.running = true
	s.logger.Infow("observer process started", "path", s.cfg.Path, "pid", cmd.Process.Pid)

	go s.drainStderr(stderr)
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			ev, err := Parse(scanner.Bytes())
			if err != nil {
				// Malformed lines are skipped, not fatal.
				if s.malformed != nil {
					s.malformed()
				}
				continue
			}
			s.Push(ev)
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			s.logger.Warnw("observer stdout read failed", "error", err)
		}
		// Child termination signals end of stream.
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			s.logger.Warnw("observer process exited", "error", err)
		}
		s.closeQueue()
	}()

	return nil
}

// Push enqueues an event without blocking. Returns false when the
// event was dropped because downstream cannot keep up. The mutex is
// held across the send attempt so closeQueue can never close the
// channel while a send is in flight; the send itself never blocks, so
// the critical section stays short.
func (s *Source) Push(ev *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.queue <- ev:
		return true
	default:
		s.logger.Warnw("event queue full, dropping event", "ts", ev.TS, "eventType", ev.EventType)
		if s.dropped != nil {
			s.dropped()
		}
		return false
	}
}

// Stop terminates the observer process (if any) and closes the event
// channel. Safe to call more than once.
func (s *Source) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		// The reader goroutine closes the queue after Wait returns.
		// Give it a moment, then force-close for inline safety.
		deadline := time.After(2 * time.Second)
		done := make(chan struct{})
		go func() {
			for {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if closed {
					close(done)
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
		}()
		select {
		case <-done:
		case <-deadline:
			s.closeQueue()
		}
		return
	}
	s.closeQueue()
}

func (s *Source) closeQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// drainStderr forwards observer diagnostics to the log.
func (s *Source) drainStderr(r interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			s.logger.Debugw("observer stderr", "line", line)
		}
	}
}
