package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MalformedFrameError is returned by Decode for frames that cannot become an
// Event.
type MalformedFrameError struct {
	Reason string
	Err    error
}

func (e *MalformedFrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %s: %v", e.Reason, e.Err)
	}
	return "malformed frame: " + e.Reason
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// frame accepts both the {"type","data"} and {"kind","payload"} spellings.
type frame struct {
	Type    string          `json:"type,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses one text frame into an Event stamped with the current time.
func Decode(b []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Event{}, &MalformedFrameError{Reason: "invalid json", Err: err}
	}
	kind := Kind(f.Type)
	if kind == "" {
		kind = Kind(f.Kind)
	}
	body := f.Data
	if len(body) == 0 {
		body = f.Payload
	}
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		body = []byte("{}")
	}

	var (
		p   Payload
		err error
	)
	switch kind {
	case KindQueueUpdate:
		var v QueueUpdate
		err = json.Unmarshal(body, &v)
		p = v
	case KindProcessingUpdate:
		var v ProcessingUpdate
		if err = json.Unmarshal(body, &v); err == nil && v.ID == "" {
			return Event{}, &MalformedFrameError{Reason: "processing_update without id"}
		}
		p = v
	case KindProcessingComplete:
		var v ProcessingComplete
		if err = json.Unmarshal(body, &v); err == nil && v.ID == "" {
			return Event{}, &MalformedFrameError{Reason: "processing_complete without id"}
		}
		p = v
	case KindProcessingError:
		var v ProcessingError
		if err = json.Unmarshal(body, &v); err == nil && v.ID == "" {
			return Event{}, &MalformedFrameError{Reason: "processing_error without id"}
		}
		p = v
	case KindSystemAlert:
		var v SystemAlert
		err = json.Unmarshal(body, &v)
		p = v
	case KindHeartbeat:
		var v Heartbeat
		err = json.Unmarshal(body, &v)
		p = v
	case "":
		return Event{}, &MalformedFrameError{Reason: "missing type"}
	default:
		return Event{}, &MalformedFrameError{Reason: fmt.Sprintf("unknown type %q", kind)}
	}
	if err != nil {
		return Event{}, &MalformedFrameError{Reason: "invalid " + string(kind) + " payload", Err: err}
	}
	return Event{Kind: kind, Payload: p, ReceivedAt: time.Now()}, nil
}

// Encode serializes p as a {"type","data"} frame. The connection pseudo-kind
// cannot be encoded.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode: nil payload")
	}
	if p.Kind() == KindConnection {
		return nil, fmt.Errorf("encode: %s events are local only", KindConnection)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Kind(), err)
	}
	return json.Marshal(frame{Type: string(p.Kind()), Data: data})
}
