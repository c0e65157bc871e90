package seatlink

import (
	"bytes"
	"io"
	"time"
)

// mockPort replays canned controller output on a timer. It stands in for a
// real serial port when developing without the seat hardware attached.
type mockPort struct {
	r    *io.PipeReader
	done chan struct{}
}

// NewMockPort returns a Porter that emits the lines in data one at a time,
// cycling forever, one line per interval. Close stops the replay and ends
// the reader side.
func NewMockPort(data []byte, interval time.Duration) Porter {
	r, w := io.Pipe()
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	done := make(chan struct{})

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			line := lines[i%len(lines)]
			buf := make([]byte, 0, len(line)+1)
			buf = append(append(buf, line...), '\n')
			if _, err := w.Write(buf); err != nil {
				return
			}
		}
	}()

	return &mockPort{r: r, done: done}
}

func (m *mockPort) Read(p []byte) (int, error) {
	return m.r.Read(p)
}

func (m *mockPort) Close() error {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	return m.r.Close()
}
