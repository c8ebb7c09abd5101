package web

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/hub"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

// StateResponse describes the pipeline right now.
type StateResponse struct {
	State      string `json:"state"`
	TurnID     string `json:"turn_id,omitempty"`
	History    int    `json:"history"`
	Clients    int    `json:"clients"`
	LastTurnID string `json:"last_turn_id,omitempty"`

	Latency LatencyResponse `json:"latency"`
}

// LatencyResponse reports stage latencies in milliseconds for the latest
// turn and averaged over recent turns.
type LatencyResponse struct {
	Turns   int              `json:"turns"`
	Last    map[string]int64 `json:"last,omitempty"`
	Average map[string]int64 `json:"average,omitempty"`
}

// TextTurnRequest is the request body for POST /api/turns.
type TextTurnRequest struct {
	Text string `json:"text"`
}

// ErrorBody describes a failed turn.
type ErrorBody struct {
	Stage   string `json:"stage,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TurnResponse summarizes a finished turn.
type TurnResponse struct {
	TurnID     string           `json:"turn_id"`
	Outcome    string           `json:"outcome"`
	Transcript string           `json:"transcript,omitempty"`
	Reply      string           `json:"reply,omitempty"`
	Sentences  []string         `json:"sentences"`
	Truncated  bool             `json:"truncated"`
	LatencyMS  int64            `json:"latency_ms"`
	AudioMS    int64            `json:"audio_ms"`
	Breakdown  map[string]int64 `json:"breakdown_ms,omitempty"`
	Error      *ErrorBody       `json:"error,omitempty"`
}

func (s *Server) handleState(c *fiber.Ctx) error {
	resp := StateResponse{
		State:   s.pipeline.State().String(),
		TurnID:  s.pipeline.TurnID(),
		History: len(s.pipeline.History()),
		Clients: s.eventHub.ClientCount(),
	}
	if last := s.pipeline.Last(); last != nil {
		resp.LastTurnID = last.TurnID
	}
	if lc := s.pipeline.Latency(); lc.Turns() > 0 {
		resp.Latency = LatencyResponse{
			Turns:   lc.Turns(),
			Last:    latencyMS(lc.Current()),
			Average: latencyMS(lc.Average()),
		}
	}
	return c.JSON(resp)
}

func latencyMS(m voice.Metrics) map[string]int64 {
	return map[string]int64{
		"asr":             m.ASRLatency.Milliseconds(),
		"llm_first_token": m.LLMFirstToken.Milliseconds(),
		"tts_first_audio": m.TTSFirstAudio.Milliseconds(),
		"total":           m.TotalLatency.Milliseconds(),
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()
	if err := s.pipeline.Health(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleGetHistory(c *fiber.Ctx) error {
	return c.JSON(s.pipeline.History())
}

func (s *Server) handleClearHistory(c *fiber.Ctx) error {
	if err := s.pipeline.ClearHistory(); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleGetEvents returns the event log, optionally for one turn and
// optionally as a msgpack trace.
func (s *Server) handleGetEvents(c *fiber.Ctx) error {
	var evs []events.Event
	if id := c.Query("turn"); id != "" {
		evs = s.pipeline.Bus().ByTurn(id)
	} else {
		evs = s.pipeline.Bus().Events()
	}
	if t := c.Query("type"); t != "" {
		evs = events.Filter(evs, events.Type(t))
	}

	if c.Query("format") == "msgpack" {
		var buf bytes.Buffer
		if err := events.WriteTrace(&buf, evs); err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "application/msgpack")
		return c.Send(buf.Bytes())
	}
	if evs == nil {
		evs = []events.Event{}
	}
	return c.JSON(evs)
}

func (s *Server) handleTextTurn(c *fiber.Ctx) error {
	var req TextTurnRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.TurnTimeout)
	defer cancel()

	res, err := s.pipeline.ProcessText(ctx, req.Text)
	return s.respondTurn(c, res, err)
}

// handleAudioTurn accepts a WAV body. With ?format=wav the reply audio is
// returned instead of the JSON summary.
func (s *Server) handleAudioTurn(c *fiber.Ctx) error {
	buf, err := audioio.DecodeWAVBytes(c.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.TurnTimeout)
	defer cancel()

	res, err := s.pipeline.ProcessAudio(ctx, buf)
	if err == nil && c.Query("format") == "wav" && len(res.Segments) > 0 {
		audio, aerr := res.Audio()
		if aerr != nil {
			return aerr
		}
		c.Set("X-Turn-ID", res.TurnID)
		c.Set(fiber.HeaderContentType, "audio/wav")
		return c.Send(audioio.EncodeWAV(audio))
	}
	return s.respondTurn(c, res, err)
}

func (s *Server) handleCancelTurn(c *fiber.Ctx) error {
	id := s.pipeline.TurnID()
	if !s.pipeline.Cancel() {
		return fiber.NewError(fiber.StatusNotFound, "no turn in progress")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"cancelled": id})
}

// handleEventsWS streams events to one client until it disconnects.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	var backlog []hub.Message
	if s.cfg.Backlog > 0 {
		evs := s.pipeline.Bus().Events()
		if len(evs) > s.cfg.Backlog {
			evs = evs[len(evs)-s.cfg.Backlog:]
		}
		for _, e := range evs {
			msg, err := hub.EncodeJSON(e)
			if err != nil {
				continue
			}
			backlog = append(backlog, msg)
		}
	}
	hub.NewClient(s.eventHub, conn, backlog...).Run()
}

func (s *Server) respondTurn(c *fiber.Ctx, res *voice.Result, err error) error {
	if errors.Is(err, voice.ErrBusy) {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	if res == nil {
		if err == nil {
			return fiber.ErrInternalServerError
		}
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(statusFor(err)).JSON(s.summarize(res))
}

func (s *Server) summarize(res *voice.Result) TurnResponse {
	resp := TurnResponse{
		TurnID:     res.TurnID,
		Outcome:    string(res.Outcome),
		Transcript: res.Transcript,
		Reply:      res.Reply,
		Sentences:  make([]string, len(res.Segments)),
		Truncated:  res.Truncated,
		LatencyMS:  res.Latency.Milliseconds(),
		AudioMS:    res.Duration().Milliseconds(),
	}
	for i, seg := range res.Segments {
		resp.Sentences[i] = seg.Text
	}

	breakdown := events.LatencyBreakdown(s.pipeline.Bus().ByTurn(res.TurnID))
	if len(breakdown) > 0 {
		resp.Breakdown = make(map[string]int64, len(breakdown))
		for k, v := range breakdown {
			resp.Breakdown[k] = v.Milliseconds()
		}
	}

	if res.Err != nil {
		body := &ErrorBody{
			Kind:    string(resilience.KindOf(res.Err)),
			Message: res.Err.Error(),
		}
		var se *voice.StageError
		if errors.As(res.Err, &se) {
			body.Stage = se.Stage
		}
		resp.Error = body
	}
	return resp
}

// statusFor maps a turn error to an HTTP status.
func statusFor(err error) int {
	if err == nil {
		return fiber.StatusOK
	}
	if errors.Is(err, voice.ErrNoTranscriber) {
		return fiber.StatusNotImplemented
	}
	switch resilience.KindOf(err) {
	case resilience.KindInput:
		return fiber.StatusBadRequest
	case resilience.KindRateLimitTimeout:
		return fiber.StatusTooManyRequests
	case resilience.KindCancelled:
		return fiber.StatusRequestTimeout
	}
	return fiber.StatusBadGateway
}
