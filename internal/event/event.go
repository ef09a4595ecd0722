// Package event delivers asynchronous notifications across the callback
// boundary.
//
// An Event carries a kind and at most one payload: raw bytes (for example a
// capability descriptor) or an edge data object. The payload is released
// exactly once, when it is replaced or when the event is destroyed.
package event

import (
	"github.com/danmuck/edgemsg/internal/edge"
	"github.com/danmuck/edgemsg/internal/edgedata"
	"github.com/danmuck/edgemsg/internal/handle"
	"github.com/danmuck/edgemsg/internal/logging"
	"github.com/danmuck/edgemsg/internal/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type payload struct {
	bytes   []byte
	data    *edgedata.Data
	release func()
}

// Event is a typed notification. It is not safe for concurrent use.
type Event struct {
	guard   handle.Guard
	id      uuid.UUID
	kind    Kind
	payload payload
}

// New creates an event of kind. Unknown and unassigned kinds are rejected.
func New(kind Kind) (*Event, error) {
	if !kind.Valid() {
		log := logging.For("event")
		log.Error().Stringer("kind", kind).Msg("invalid param, given event type is invalid")
		return nil, edge.Invalid("event kind %s is invalid", kind)
	}
	e := &Event{id: uuid.New(), kind: kind}
	e.guard.Arm()
	return e, nil
}

func (e *Event) IsValid() bool {
	return e != nil && e.guard.Valid()
}

func (e *Event) check() error {
	if !e.IsValid() {
		log := logging.For("event")
		log.Error().Msg("invalid param, given edge event is invalid")
		return edge.Invalid("edge event handle is invalid")
	}
	return nil
}

func (e *Event) logger() zerolog.Logger {
	return logging.For("event").With().Str("event_id", e.id.String()).Stringer("kind", e.kind).Logger()
}

// ID identifies the event in log lines.
func (e *Event) ID() uuid.UUID {
	if e == nil {
		return uuid.Nil
	}
	return e.id
}

// Destroy releases the payload. A second call fails with
// ErrInvalidParameter.
func (e *Event) Destroy() error {
	if e == nil || !e.guard.Kill() {
		log := logging.For("event")
		log.Error().Msg("invalid param, given edge event is invalid")
		return edge.Invalid("edge event handle is invalid")
	}
	e.releasePayload()
	return nil
}

func (e *Event) releasePayload() {
	release := e.payload.release
	e.payload = payload{}
	if release != nil {
		release()
	}
}

// Kind returns the event kind.
func (e *Event) Kind() (Kind, error) {
	if err := e.check(); err != nil {
		return Unknown, err
	}
	return e.kind, nil
}

// SetPayload attaches raw bytes, releasing any previous payload first. An
// owned buffer is released with the event.
func (e *Event) SetPayload(buf memory.Buffer) error {
	if err := e.check(); err != nil {
		return err
	}
	if buf.Len() == 0 {
		l := e.logger()
		l.Error().Msg("invalid param, data should not be null")
		return edge.Invalid("event payload is empty")
	}
	e.releasePayload()
	e.payload = payload{
		bytes:   buf.Bytes(),
		release: buf.Release,
	}
	return nil
}

// SetData attaches an edge data object, releasing any previous payload
// first. When owned is true the object is destroyed with the event.
func (e *Event) SetData(d *edgedata.Data, owned bool) error {
	if err := e.check(); err != nil {
		return err
	}
	if !d.IsValid() {
		l := e.logger()
		l.Error().Msg("invalid param, edge data handle is invalid")
		return edge.Invalid("event data handle is invalid")
	}
	e.releasePayload()
	e.payload = payload{data: d}
	if owned {
		e.payload.release = func() { _ = d.Destroy() }
	}
	return nil
}

// Bytes returns the raw payload. The bytes remain owned by the event.
func (e *Event) Bytes() ([]byte, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if e.payload.bytes == nil {
		return nil, edge.Invalid("event carries no byte payload")
	}
	return e.payload.bytes, nil
}

// ParseNewData returns a deep copy of the received edge data. The caller
// owns the copy and must destroy it.
func (e *Event) ParseNewData() (*edgedata.Data, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if e.kind != NewDataReceived {
		l := e.logger()
		l.Error().Msg("the edge event has invalid event type")
		return nil, edge.Invalid("event kind %s does not carry new data", e.kind)
	}
	if e.payload.data == nil {
		l := e.logger()
		l.Error().Msg("the edge event carries no edge data")
		return nil, edge.Invalid("event carries no edge data")
	}
	return e.payload.data.Copy()
}

// ParseCapability returns a private copy of the capability descriptor, up
// to the first NUL byte. The copy is charged to the process allocator;
// hand it back with memory.FreeString.
func (e *Event) ParseCapability() (string, error) {
	if err := e.check(); err != nil {
		return "", err
	}
	if e.kind != Capability {
		l := e.logger()
		l.Error().Msg("the edge event has invalid event type")
		return "", edge.Invalid("event kind %s does not carry a capability", e.kind)
	}
	raw := e.payload.bytes
	if raw == nil {
		l := e.logger()
		l.Error().Msg("the edge event carries no capability")
		return "", edge.Invalid("event carries no capability")
	}
	return memory.StrnDup(string(raw), len(raw))
}
