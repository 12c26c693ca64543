package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strings"
	"sync"
)

// Source opens a stream of raw PCM16LE mono audio.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Sink plays one encoded clip and returns when playback ends.
type Sink interface {
	Play(ctx context.Context, clip []byte) error
}

// RMS is the root mean square of PCM16LE samples, scaled to [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// CommandSource captures microphone audio from an external recorder such
// as `arecord -q -f S16_LE -r 16000 -c 1 -t raw`, which writes raw PCM to
// stdout.
type CommandSource struct {
	Command string
}

func (s CommandSource) Open(ctx context.Context) (io.ReadCloser, error) {
	argv := strings.Fields(s.Command)
	if len(argv) == 0 {
		return nil, errors.New("audio: capture command is empty")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start %s: %w", argv[0], err)
	}
	return &processReader{cmd: cmd, out: out}, nil
}

type processReader struct {
	cmd  *exec.Cmd
	out  io.ReadCloser
	once sync.Once
}

func (r *processReader) Read(p []byte) (int, error) {
	return r.out.Read(p)
}

// Close stops the recorder. The microphone is released when Close returns.
func (r *processReader) Close() error {
	r.once.Do(func() {
		if r.cmd.Process != nil {
			_ = r.cmd.Process.Kill()
		}
		_ = r.cmd.Wait()
	})
	return nil
}

// ReaderSource replays fixed PCM, used for tests and file input.
type ReaderSource struct {
	PCM []byte
}

func (s ReaderSource) Open(context.Context) (io.ReadCloser, error) {
	return &replayReader{r: bytes.NewReader(s.PCM)}, nil
}

// replayReader reports EOF once closed, like a stopped recorder.
type replayReader struct {
	mu     sync.Mutex
	r      *bytes.Reader
	closed bool
}

func (r *replayReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.EOF
	}
	return r.r.Read(p)
}

func (r *replayReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// CommandSink pipes a clip into a player such as
// `ffplay -nodisp -autoexit -loglevel quiet -`.
type CommandSink struct {
	Command string
}

func (s CommandSink) Play(ctx context.Context, clip []byte) error {
	argv := strings.Fields(s.Command)
	if len(argv) == 0 {
		return errors.New("audio: player command is empty")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(clip)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio: play: %w", err)
	}
	return nil
}
