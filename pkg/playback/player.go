// Package playback plays reply audio through an external player process.
//
// Segments are piped as raw 16-bit little-endian PCM into the player's
// stdin, so playback starts with the first sentence while later ones are
// still being written.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-voicestream/internal/log"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

// ErrNoPlayer is returned when no known player command is installed.
var ErrNoPlayer = errors.New("playback: no audio player found (install aplay, ffplay or play)")

// Config describes the player command. "{rate}" and "{channels}" in Args
// are replaced with the format of the audio being played.
type Config struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`

	// FlushTimeout bounds how long Flush waits for the player to drain.
	FlushTimeout time.Duration `yaml:"flush_timeout" json:"flush_timeout"`
}

// candidates are tried in order by Detect.
var candidates = []Config{
	{Command: "aplay", Args: []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}", "-"}},
	{Command: "ffplay", Args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "-f", "s16le", "-ar", "{rate}", "-ac", "{channels}", "-"}},
	{Command: "play", Args: []string{"-q", "-t", "raw", "-e", "signed", "-b", "16", "-L", "-r", "{rate}", "-c", "{channels}", "-"}},
}

// Detect returns the first player found on PATH.
func Detect() (Config, error) {
	for _, c := range candidates {
		if _, err := exec.LookPath(c.Command); err == nil {
			c.FlushTimeout = 30 * time.Second
			return c, nil
		}
	}
	return Config{}, ErrNoPlayer
}

// Player streams segments into one player process per audio format.
type Player struct {
	cfg    Config
	logger *slog.Logger

	// Callbacks
	OnPlaybackStart func()
	OnPlaybackEnd   func()

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	done     chan error
	rate     int
	channels int
}

// New creates a player. Nothing is started until the first segment.
func New(cfg Config, logger *slog.Logger) *Player {
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 30 * time.Second
	}
	return &Player{
		cfg:    cfg,
		logger: log.Component(logger, "playback.Player"),
	}
}

// WriteSegment implements voice.Sink.
func (p *Player) WriteSegment(ctx context.Context, seg voice.Segment) error {
	if len(seg.Audio.Data) == 0 {
		return nil
	}
	if seg.Audio.BitDepth != 0 && seg.Audio.BitDepth != 16 {
		return fmt.Errorf("playback: unsupported bit depth %d", seg.Audio.BitDepth)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// A format change needs a fresh process.
	if p.cmd != nil && (p.rate != seg.Audio.SampleRate || p.channels != seg.Audio.Channels) {
		p.flushLocked(ctx)
	}
	if p.cmd == nil {
		if err := p.startLocked(seg.Audio.SampleRate, seg.Audio.Channels); err != nil {
			return err
		}
	}

	if _, err := p.stdin.Write(seg.Audio.Data); err != nil {
		// Player died; the next segment restarts it.
		p.stopLocked()
		return fmt.Errorf("playback: write: %w", err)
	}
	return nil
}

func (p *Player) startLocked(rate, channels int) error {
	args := make([]string, len(p.cfg.Args))
	for i, a := range p.cfg.Args {
		a = strings.ReplaceAll(a, "{rate}", strconv.Itoa(rate))
		args[i] = strings.ReplaceAll(a, "{channels}", strconv.Itoa(channels))
	}

	cmd := exec.Command(p.cfg.Command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("playback: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("playback: start %s: %w", p.cfg.Command, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	p.cmd, p.stdin, p.done = cmd, stdin, done
	p.rate, p.channels = rate, channels
	p.logger.Debug("player started", "command", p.cfg.Command, "rate", rate, "channels", channels)

	if p.OnPlaybackStart != nil {
		p.OnPlaybackStart()
	}
	return nil
}

// Flush closes the player's input and waits for it to finish playing,
// for at most FlushTimeout or until ctx is done.
func (p *Player) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(ctx)
}

func (p *Player) flushLocked(ctx context.Context) error {
	if p.cmd == nil {
		return nil
	}
	p.stdin.Close()

	timer := time.NewTimer(p.cfg.FlushTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-p.done:
	case <-timer.C:
		p.cmd.Process.Kill()
		err = <-p.done
	case <-ctx.Done():
		p.cmd.Process.Kill()
		<-p.done
		err = ctx.Err()
	}
	p.reset()
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

// Cancel stops playback immediately.
func (p *Player) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if p.cmd == nil {
		return
	}
	p.stdin.Close()
	p.cmd.Process.Kill()
	<-p.done
	p.reset()
}

func (p *Player) reset() {
	p.cmd, p.stdin, p.done = nil, nil, nil
	if p.OnPlaybackEnd != nil {
		p.OnPlaybackEnd()
	}
}

// IsPlaying reports whether a player process is running.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

// Close waits for queued audio to finish.
func (p *Player) Close() error {
	return p.Flush(context.Background())
}

var _ voice.Sink = (*Player)(nil)
