package worker

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/projectdesk/projectdesk/internal/logger"
)

// Output stream names, used as the "stream" log field.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

const maxLineSize = 1024 * 1024

// Line is one line of worker output.
type Line struct {
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"`
	PID    int       `json:"pid"`
	Text   string    `json:"text"`
}

// Output keeps the most recent worker output lines across restarts.
type Output struct {
	lines *logger.RingBuffer[Line]
}

// NewOutput creates an output buffer holding up to size lines.
func NewOutput(size int) *Output {
	return &Output{lines: logger.NewRingBuffer[Line](size)}
}

// Lines returns up to n of the newest lines, oldest first. n < 0 returns all.
func (o *Output) Lines(n int) []Line {
	return o.lines.Last(n)
}

// Tail returns up to n of the newest lines from one stream.
func (o *Output) Tail(stream string, n int) []string {
	var out []string
	for _, l := range o.lines.GetAll() {
		if l.Stream == stream {
			out = append(out, l.Text)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Add appends a line. A nil Output discards it.
func (o *Output) Add(l Line) {
	if o != nil {
		o.lines.Push(l)
	}
}

// forward reads r line by line until EOF, writing one log record per line.
// stderr lines are logged at warn level.
func forward(r io.Reader, stream string, pid int, log zerolog.Logger, out *Output) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\r")

		event := log.Info()
		if stream == StreamStderr {
			event = log.Warn()
		}
		event.Str("stream", stream).Int("pid", pid).Msg(text)

		out.Add(Line{Time: time.Now(), Stream: stream, PID: pid, Text: text})
	}

	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Str("stream", stream).Int("pid", pid).Msg("Stopped reading worker output")
		// Drain so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}
