package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// traceVersion is written at the head of every trace file.
const traceVersion = 1

type traceHeader struct {
	Version int `msgpack:"version"`
	Count   int `msgpack:"count"`
}

type wireEvent struct {
	Seq    uint64             `msgpack:"seq"`
	Time   time.Time          `msgpack:"time"`
	TurnID string             `msgpack:"turn_id"`
	Type   Type               `msgpack:"type"`
	Data   msgpack.RawMessage `msgpack:"data"`
}

// WriteTrace encodes events as a msgpack trace that ReadTrace can replay.
func WriteTrace(w io.Writer, evs []Event) error {
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(traceHeader{Version: traceVersion, Count: len(evs)}); err != nil {
		return fmt.Errorf("events: write trace header: %w", err)
	}
	for _, e := range evs {
		data, err := msgpack.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("events: encode %s #%d: %w", e.Type(), e.Seq, err)
		}
		we := wireEvent{Seq: e.Seq, Time: e.Time, TurnID: e.TurnID, Type: e.Type(), Data: data}
		if err := enc.Encode(&we); err != nil {
			return fmt.Errorf("events: write %s #%d: %w", e.Type(), e.Seq, err)
		}
	}
	return nil
}

// ReadTrace decodes a trace written by WriteTrace.
func ReadTrace(r io.Reader) ([]Event, error) {
	dec := msgpack.NewDecoder(r)
	var hdr traceHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("events: read trace header: %w", err)
	}
	if hdr.Version != traceVersion {
		return nil, fmt.Errorf("events: unsupported trace version %d", hdr.Version)
	}

	evs := make([]Event, 0, hdr.Count)
	for i := 0; i < hdr.Count; i++ {
		var we wireEvent
		if err := dec.Decode(&we); err != nil {
			if errors.Is(err, io.EOF) {
				return evs, fmt.Errorf("events: trace truncated after %d of %d events", i, hdr.Count)
			}
			return evs, fmt.Errorf("events: read event %d: %w", i, err)
		}
		p, ok := newPayload(we.Type)
		if !ok {
			return evs, fmt.Errorf("events: unknown event type %q", we.Type)
		}
		if err := msgpack.Unmarshal(we.Data, p); err != nil {
			return evs, fmt.Errorf("events: decode %s #%d: %w", we.Type, we.Seq, err)
		}
		evs = append(evs, Event{Seq: we.Seq, Time: we.Time, TurnID: we.TurnID, Payload: deref(p)})
	}
	return evs, nil
}

type jsonEvent struct {
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	TurnID string    `json:"turn_id,omitempty"`
	Type   Type      `json:"type"`
	Data   Payload   `json:"data"`
}

// MarshalJSON renders the event with its type tag.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonEvent{Seq: e.Seq, Time: e.Time, TurnID: e.TurnID, Type: e.Type(), Data: e.Payload})
}
