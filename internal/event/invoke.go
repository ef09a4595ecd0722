package event

import (
	"github.com/danmuck/edgemsg/internal/edgedata"
	"github.com/danmuck/edgemsg/internal/logging"
	"github.com/danmuck/edgemsg/internal/memory"
	"github.com/danmuck/edgemsg/internal/observability"
)

// Callback receives an event synchronously. The event is destroyed when the
// callback returns; keep data past that point with ParseNewData or
// ParseCapability.
type Callback func(ev *Event) error

// Invoke delivers an event of kind to cb with buf as payload. An empty buf
// delivers no payload. Ownership of buf passes to Invoke: an owned buf is
// released exactly once whether or not the callback runs.
func Invoke(cb Callback, kind Kind, buf memory.Buffer) error {
	return dispatch(cb, kind, func(ev *Event) error {
		if buf.Len() == 0 {
			buf.Release()
			return nil
		}
		return ev.SetPayload(buf)
	}, buf.Release)
}

// InvokeNewData delivers a NewDataReceived event carrying d. When owned is
// true d is destroyed once delivery ends.
func InvokeNewData(cb Callback, d *edgedata.Data, owned bool) error {
	discard := func() {
		if owned && d.IsValid() {
			_ = d.Destroy()
		}
	}
	return dispatch(cb, NewDataReceived, func(ev *Event) error {
		return ev.SetData(d, owned)
	}, discard)
}

// dispatch runs attach on a fresh event, hands it to cb and destroys it.
// discard releases the payload when it never reached the event.
func dispatch(cb Callback, kind Kind, attach func(*Event) error, discard func()) error {
	log := logging.For("event")
	if cb == nil {
		log.Warn().Stringer("kind", kind).Msg("the event callback is nil, do nothing")
		discard()
		return nil
	}
	ev, err := New(kind)
	if err != nil {
		discard()
		return err
	}
	if err := attach(ev); err != nil {
		discard()
		_ = ev.Destroy()
		return err
	}

	err = cb(ev)
	observability.RecordEvent(kind.String(), err == nil)
	if err != nil {
		l := ev.logger()
		l.Warn().Err(err).Msg("event callback returned error")
	}
	_ = ev.Destroy()
	return err
}
