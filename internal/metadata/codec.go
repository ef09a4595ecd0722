package metadata

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/danmuck/edgemsg/internal/edge"
	"github.com/danmuck/edgemsg/internal/logging"
	"github.com/danmuck/edgemsg/internal/observability"
)

// CountSize is the width of the pair-count header.
const CountSize = 4

// Serialize encodes the store as a native-endian uint32 pair count followed
// by NUL-terminated key and value bytes for every pair. An empty store
// encodes to nil. The blob is charged to the store's allocator; hand it back
// with FreeBlob when done.
func (s *Store) Serialize() ([]byte, error) {
	if len(s.nodes) == 0 {
		return nil, nil
	}
	if uint64(len(s.nodes)) > math.MaxUint32 {
		return nil, edge.Invalid("metadata holds %d pairs", len(s.nodes))
	}

	total := CountSize
	for _, n := range s.nodes {
		total += len(n.key) + len(n.value) + 2
	}

	buf, err := s.allocator().Alloc(total)
	if err != nil {
		return nil, err
	}
	out := buf[:CountSize]
	binary.NativeEndian.PutUint32(out, uint32(len(s.nodes)))
	for _, n := range s.nodes {
		out = append(out, n.key...)
		out = append(out, 0)
		out = append(out, n.value...)
		out = append(out, 0)
	}
	return out, nil
}

// FreeBlob returns a Serialize result to the store's allocator.
func (s *Store) FreeBlob(b []byte) {
	s.allocator().Free(b)
}

// Deserialize clears the store and fills it from a Serialize blob. Decoding
// stops once the declared pair count is consumed; running out of bytes
// first, or a string with no terminator inside data, is an error. On any
// failure the store is left empty.
func (s *Store) Deserialize(data []byte) error {
	log := logging.For("metadata")
	if len(data) == 0 {
		observability.RecordMetadataDecodeFailure("empty")
		log.Error().Msg("invalid param, serialized metadata is empty")
		return edge.Invalid("serialized metadata is empty")
	}

	s.Clear()

	if len(data) < CountSize {
		observability.RecordMetadataDecodeFailure("truncated")
		log.Error().Int("len", len(data)).Msg("serialized metadata shorter than count header")
		return edge.Invalid("serialized metadata has %d bytes, header needs %d", len(data), CountSize)
	}

	total := binary.NativeEndian.Uint32(data[:CountSize])
	cur := CountSize
	var consumed uint32
	for cur < len(data) && consumed < total {
		key, next, ok := scanString(data, cur)
		if !ok {
			return s.failDecode("truncated", edge.Invalid("metadata key at offset %d is not terminated", cur))
		}
		value, end, ok := scanString(data, next)
		if !ok {
			return s.failDecode("truncated", edge.Invalid("metadata value at offset %d is not terminated", next))
		}
		if err := s.Set(key, value); err != nil {
			return s.failDecode("entry", err)
		}
		cur = end
		consumed++
	}

	if consumed < total {
		return s.failDecode("count", edge.Invalid("metadata declares %d pairs but holds %d", total, consumed))
	}
	return nil
}

func (s *Store) failDecode(reason string, err error) error {
	s.Clear()
	observability.RecordMetadataDecodeFailure(reason)
	log := logging.For("metadata")
	log.Error().Str("reason", reason).Err(err).Msg("failed to deserialize metadata")
	return err
}

// scanString reads a NUL-terminated string starting at off. ok is false when
// no terminator exists before the end of data.
func scanString(data []byte, off int) (string, int, bool) {
	if off >= len(data) {
		return "", off, false
	}
	i := bytes.IndexByte(data[off:], 0)
	if i < 0 {
		return "", off, false
	}
	return string(data[off : off+i]), off + i + 1, true
}
