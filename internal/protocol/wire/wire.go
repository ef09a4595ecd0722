package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/edgemsg/internal/edgedata"
	"github.com/danmuck/edgemsg/internal/event"
	"github.com/danmuck/edgemsg/internal/logging"
	"github.com/danmuck/edgemsg/internal/memory"
	"github.com/danmuck/edgemsg/internal/observability"
	"github.com/danmuck/edgemsg/internal/protocol/frame"
	"github.com/danmuck/edgemsg/internal/protocol/tlv"
)

// Message types.
const (
	MsgData       uint32 = 1
	MsgCapability uint32 = 2
)

// Field IDs.
const (
	FieldMetadata    uint16 = 1
	FieldBuffer      uint16 = 2
	FieldBufferCount uint16 = 3
	FieldCapability  uint16 = 4
)

var (
	ErrUnexpectedType = errors.New("wire: unexpected message type")
	ErrMissingField   = errors.New("wire: missing required field")
	ErrCountMismatch  = errors.New("wire: buffer count mismatch")
)

func typeName(t uint32) string {
	switch t {
	case MsgData:
		return "data"
	case MsgCapability:
		return "capability"
	default:
		return "unknown"
	}
}

// EncodeDataFrame serializes d's metadata and buffers into one frame.
func EncodeDataFrame(messageID uint64, d *edgedata.Data, limits frame.Limits) ([]byte, error) {
	f, err := BuildDataFrame(messageID, d)
	if err != nil {
		return nil, err
	}
	return Marshal(f, limits)
}

// BuildDataFrame lays out d as an unsealed data frame. The payload copies
// d's buffers.
func BuildDataFrame(messageID uint64, d *edgedata.Data) (frame.Frame, error) {
	count, err := d.Count()
	if err != nil {
		return frame.Frame{}, err
	}
	meta, err := d.SerializeMetadata()
	if err != nil {
		return frame.Frame{}, err
	}
	defer d.FreeMetadata(meta)

	fields := make([]tlv.Field, 0, count+2)
	fields = append(fields, tlv.Field{ID: FieldBufferCount, Type: tlv.TypeU32, Value: tlv.U32Bytes(uint32(count))})
	if len(meta) > 0 {
		fields = append(fields, tlv.Field{ID: FieldMetadata, Type: tlv.TypeBytes, Value: meta})
	}
	for i := 0; i < count; i++ {
		b, err := d.Get(i)
		if err != nil {
			return frame.Frame{}, err
		}
		fields = append(fields, tlv.Field{ID: FieldBuffer, Type: tlv.TypeBytes, Value: b})
	}
	return buildFrame(messageID, MsgData, fields)
}

// DecodeDataFrame rebuilds an edge data object from a data frame. The
// caller owns the result.
func DecodeDataFrame(f frame.Frame) (*edgedata.Data, error) {
	if f.Header.MessageType != MsgData {
		return nil, fmt.Errorf("%w: got %d want %d", ErrUnexpectedType, f.Header.MessageType, MsgData)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	countField, ok := tlv.GetField(fields, FieldBufferCount)
	if !ok {
		return nil, fmt.Errorf("%w: buffer_count", ErrMissingField)
	}
	declared, err := tlv.U32FromBytes(countField.Value)
	if err != nil {
		return nil, err
	}
	buffers := tlv.All(fields, FieldBuffer)
	if uint64(declared) != uint64(len(buffers)) {
		return nil, fmt.Errorf("%w: declared %d, found %d", ErrCountMismatch, declared, len(buffers))
	}

	a := memory.Default()
	d := edgedata.NewWithAllocator(a)
	for _, b := range buffers {
		if err := a.Reserve(len(b.Value)); err != nil {
			_ = d.Destroy()
			return nil, err
		}
		if err := d.Add(memory.Owned(b.Value, a.Free)); err != nil {
			a.Free(b.Value)
			_ = d.Destroy()
			return nil, err
		}
	}
	if metaField, ok := tlv.GetField(fields, FieldMetadata); ok && len(metaField.Value) > 0 {
		if err := d.DeserializeMetadata(metaField.Value); err != nil {
			_ = d.Destroy()
			return nil, err
		}
	}
	return d, nil
}

// EncodeCapabilityFrame announces a capability descriptor.
func EncodeCapabilityFrame(messageID uint64, capability string, limits frame.Limits) ([]byte, error) {
	f, err := BuildCapabilityFrame(messageID, capability)
	if err != nil {
		return nil, err
	}
	return Marshal(f, limits)
}

func BuildCapabilityFrame(messageID uint64, capability string) (frame.Frame, error) {
	if capability == "" {
		return frame.Frame{}, fmt.Errorf("%w: capability", ErrMissingField)
	}
	fields := []tlv.Field{{ID: FieldCapability, Type: tlv.TypeString, Value: []byte(capability)}}
	return buildFrame(messageID, MsgCapability, fields)
}

func DecodeCapabilityFrame(f frame.Frame) (string, error) {
	if f.Header.MessageType != MsgCapability {
		return "", fmt.Errorf("%w: got %d want %d", ErrUnexpectedType, f.Header.MessageType, MsgCapability)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return "", err
	}
	capField, ok := tlv.GetField(fields, FieldCapability)
	if !ok || len(capField.Value) == 0 {
		return "", fmt.Errorf("%w: capability", ErrMissingField)
	}
	return string(capField.Value), nil
}

// Send writes d as one data frame.
func Send(w io.Writer, messageID uint64, d *edgedata.Data, limits frame.Limits) error {
	b, err := EncodeDataFrame(messageID, d, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Receive reads one frame and delivers it to cb with Dispatch.
func Receive(r io.Reader, limits frame.Limits, cb event.Callback) error {
	f, err := frame.ReadFrame(r, limits)
	if err != nil {
		return err
	}
	return Dispatch(f, cb)
}

// Dispatch delivers a decoded frame to cb: data frames as a NewDataReceived
// event, capability frames as a Capability event. The decoded data object is
// destroyed when delivery ends.
func Dispatch(f frame.Frame, cb event.Callback) error {
	observability.RecordFrame("in", typeName(f.Header.MessageType), len(f.Payload))
	log := logging.For("wire")

	switch f.Header.MessageType {
	case MsgData:
		d, err := DecodeDataFrame(f)
		if err != nil {
			log.Error().Uint64("message_id", f.Header.MessageID).Err(err).Msg("failed to decode data frame")
			return err
		}
		return event.InvokeNewData(cb, d, true)
	case MsgCapability:
		caps, err := DecodeCapabilityFrame(f)
		if err != nil {
			log.Error().Uint64("message_id", f.Header.MessageID).Err(err).Msg("failed to decode capability frame")
			return err
		}
		return event.Invoke(cb, event.Capability, memory.Borrowed([]byte(caps)))
	default:
		log.Warn().Uint32("type", f.Header.MessageType).Msg("dropping frame of unknown type")
		return fmt.Errorf("%w: %d", ErrUnexpectedType, f.Header.MessageType)
	}
}

func buildFrame(messageID uint64, msgType uint32, fields []tlv.Field) (frame.Frame, error) {
	payload, err := tlv.EncodeFields(fields)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: msgType,
		},
		Payload: payload,
	}, nil
}

// Marshal writes f, including any auth token, to a byte slice within limits.
func Marshal(f frame.Frame, limits frame.Limits) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, f, limits); err != nil {
		return nil, err
	}
	observability.RecordFrame("out", typeName(f.Header.MessageType), len(f.Payload))
	return buf.Bytes(), nil
}
