package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType tags a StreamEvent. The set is closed.
type EventType string

const (
	EventThinking EventType = "thinking"
	EventAnswer   EventType = "answer"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// ErrUnknownEventType is returned when encoding or decoding an event whose
// tag is not one of the four protocol kinds.
var ErrUnknownEventType = errors.New("unknown stream event type")

// Valid reports whether t is one of the protocol event kinds.
func (t EventType) Valid() bool {
	switch t {
	case EventThinking, EventAnswer, EventError, EventDone:
		return true
	}
	return false
}

// StreamEvent is one unit of the client-facing progress protocol. Only the
// field matching Type is meaningful; the JSON form carries only that field.
type StreamEvent struct {
	Type    EventType
	Stages  []StageRecord
	Content string
	Message string
}

// ThinkingEvent carries a copy of the trace so far.
func ThinkingEvent(trace []StageRecord) StreamEvent {
	return StreamEvent{Type: EventThinking, Stages: CopyTrace(trace)}
}

// AnswerEvent carries one slice of the final result.
func AnswerEvent(content string) StreamEvent {
	return StreamEvent{Type: EventAnswer, Content: content}
}

// ErrorEvent carries a terminal failure message.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}

// DoneEvent terminates a stream.
func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}

type thinkingWire struct {
	Type   EventType     `json:"type"`
	Stages []StageRecord `json:"stages"`
}

type answerWire struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

type errorWire struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

type doneWire struct {
	Type EventType `json:"type"`
}

// MarshalJSON encodes the event in its wire shape.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventThinking:
		stages := e.Stages
		if stages == nil {
			stages = []StageRecord{}
		}
		return json.Marshal(thinkingWire{Type: e.Type, Stages: stages})
	case EventAnswer:
		return json.Marshal(answerWire{Type: e.Type, Content: e.Content})
	case EventError:
		return json.Marshal(errorWire{Type: e.Type, Message: e.Message})
	case EventDone:
		return json.Marshal(doneWire{Type: e.Type})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
}

// UnmarshalJSON decodes a wire event, rejecting unknown tags.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    EventType     `json:"type"`
		Stages  []StageRecord `json:"stages"`
		Content string        `json:"content"`
		Message string        `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, raw.Type)
	}

	*e = StreamEvent{Type: raw.Type}
	switch raw.Type {
	case EventThinking:
		e.Stages = raw.Stages
		if e.Stages == nil {
			e.Stages = []StageRecord{}
		}
	case EventAnswer:
		e.Content = raw.Content
	case EventError:
		e.Message = raw.Message
	}
	return nil
}
