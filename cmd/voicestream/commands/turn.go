package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicestream/internal/config"
	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/playback"
	"github.com/teslashibe/go-voicestream/pkg/rtpaudio"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

// Flags shared by say and listen.
var (
	outFile   string
	traceFile string
	rtpOut    string
	play      bool
	timeout   time.Duration
)

// Flags for listen.
var (
	wavFile      string
	rtpListen    string
	rtpIdle      time.Duration
	rtpMaxLength time.Duration
)

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Run one text turn and print the reply",
	Long: `Run one turn from text, skipping transcription.

Examples:
  voicestream say "What's the weather like on Mars?"
  voicestream say --preset fast -o reply.wav "Tell me a joke"
  TEST_MODE=true voicestream say hello`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTurn(cmd, func(ctx context.Context, p *voice.Pipeline) (*voice.Result, error) {
			return p.ProcessText(ctx, args[0])
		})
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run one audio turn from a WAV file or an RTP stream",
	Long: `Run one turn from captured audio.

Audio comes from a WAV file (--wav) or from an Opus RTP stream received on a
UDP address (--rtp-listen). Reception stops when the stream goes quiet for
--rtp-idle or after --rtp-max of audio.

Examples:
  voicestream listen --wav question.wav -o answer.wav
  voicestream listen --rtp-listen :5004 --rtp-out 127.0.0.1:5006`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (wavFile == "") == (rtpListen == "") {
			return fmt.Errorf("exactly one of --wav or --rtp-listen is required")
		}
		return runTurn(cmd, func(ctx context.Context, p *voice.Pipeline) (*voice.Result, error) {
			buf, err := capture(ctx)
			if err != nil {
				return nil, err
			}
			return p.ProcessAudio(ctx, buf)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{sayCmd, listenCmd} {
		f := c.Flags()
		f.StringVarP(&outFile, "out", "o", "", "write the reply audio to a WAV file")
		f.StringVar(&traceFile, "trace", "", "write the turn's events to a msgpack trace")
		f.StringVar(&rtpOut, "rtp-out", "", "stream the reply as Opus RTP to host:port")
		f.BoolVar(&play, "play", false, "play the reply on this machine")
		f.DurationVar(&timeout, "timeout", time.Minute, "turn deadline")
	}
	f := listenCmd.Flags()
	f.StringVar(&wavFile, "wav", "", "WAV file to transcribe")
	f.StringVar(&rtpListen, "rtp-listen", "", "UDP address to receive Opus RTP on")
	f.DurationVar(&rtpIdle, "rtp-idle", 800*time.Millisecond, "end of speech after this much silence on the wire")
	f.DurationVar(&rtpMaxLength, "rtp-max", 30*time.Second, "longest capture")
}

// runTurn builds a pipeline, runs one turn and reports it.
func runTurn(cmd *cobra.Command, process func(context.Context, *voice.Pipeline) (*voice.Result, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var sinks []voice.Sink
	if rtpOut != "" {
		sink, err := dialRTP(cfg, rtpOut)
		if err != nil {
			return err
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}
	if play {
		player, err := newPlayer(cfg)
		if err != nil {
			return err
		}
		// Waits for the reply to finish playing.
		defer player.Close()
		sinks = append(sinks, player)
	}

	var opts []voice.Option
	if sink := tee(sinks...); sink != nil {
		opts = append(opts, voice.WithSink(sink))
	}

	p, err := newPipeline(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := process(ctx, p)
	if res == nil {
		return err
	}

	turnEvents := p.Bus().ByTurn(res.TurnID)
	fmt.Fprintln(cmd.OutOrStdout(), renderTurn(res, events.LatencyBreakdown(turnEvents)))

	if outFile != "" && len(res.Segments) > 0 {
		if werr := writeWAV(outFile, res); werr != nil {
			return werr
		}
	}
	if traceFile != "" {
		if werr := writeTrace(traceFile, turnEvents); werr != nil {
			return werr
		}
	}
	return err
}

func capture(ctx context.Context) (audioio.Buffer, error) {
	if wavFile != "" {
		f, err := os.Open(wavFile)
		if err != nil {
			return audioio.Buffer{}, err
		}
		defer f.Close()
		return audioio.DecodeWAV(f)
	}

	conn, err := net.ListenPacket("udp", rtpListen)
	if err != nil {
		return audioio.Buffer{}, fmt.Errorf("listen %s: %w", rtpListen, err)
	}
	defer conn.Close()

	logger().Info("waiting for RTP audio", "addr", conn.LocalAddr().String())
	d, err := rtpaudio.NewDepacketizer(1)
	if err != nil {
		return audioio.Buffer{}, err
	}
	buf, err := d.Receive(ctx, conn, rtpIdle, rtpMaxLength)
	stats := d.Stats()
	logger().Info("RTP capture finished",
		"duration", buf.Duration(),
		"packets", stats.Packets,
		"lost", stats.Lost,
		"late", stats.Late,
		"malformed", stats.Malformed,
	)
	return buf, err
}

func dialRTP(cfg *config.Config, addr string) (*rtpaudio.UDPSink, error) {
	sc := cfg.RTP.SinkConfig
	sc.Logger = logger()
	return rtpaudio.DialUDP(addr, sc)
}

func newPlayer(cfg *config.Config) (*playback.Player, error) {
	pc := cfg.Playback
	if pc.Command == "" {
		detected, err := playback.Detect()
		if err != nil {
			return nil, err
		}
		pc = detected
	}
	return playback.New(pc, logger()), nil
}

// tee writes every segment to each sink in order.
func tee(sinks ...voice.Sink) voice.Sink {
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return voice.SinkFunc(func(ctx context.Context, seg voice.Segment) error {
		var errs []error
		for _, s := range sinks {
			if err := s.WriteSegment(ctx, seg); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

func writeWAV(path string, res *voice.Result) error {
	audio, err := res.Audio()
	if err != nil {
		return err
	}
	return saveToFile(path, audioio.EncodeWAV(audio))
}

func writeTrace(path string, evs []events.Event) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	if err := events.WriteTrace(f, evs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// saveToFile writes data, creating parent directories.
func saveToFile(path string, data []byte) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func create(path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	return os.Create(path)
}
