// Package edgedata owns the multi-buffer payload exchanged between peers.
//
// A Data object holds up to Limit raw buffers plus one metadata store. A
// buffer added as memory.Owned is released exactly once when the object is
// destroyed; a memory.Borrowed buffer is never released by the object.
// Copies always own private duplicates of every buffer.
package edgedata

import (
	"github.com/danmuck/edgemsg/internal/edge"
	"github.com/danmuck/edgemsg/internal/handle"
	"github.com/danmuck/edgemsg/internal/logging"
	"github.com/danmuck/edgemsg/internal/memory"
	"github.com/danmuck/edgemsg/internal/metadata"
	"github.com/danmuck/edgemsg/internal/observability"
)

// Limit is the maximum number of buffers in one Data object.
const Limit = 16

// Data is the edge payload container. It is not safe for concurrent use.
type Data struct {
	guard   handle.Guard
	alloc   *memory.Allocator
	buffers [Limit]memory.Buffer
	count   int
	meta    *metadata.Store
}

// New returns an empty Data object charged to the process allocator.
func New() *Data {
	return NewWithAllocator(memory.Default())
}

func NewWithAllocator(a *memory.Allocator) *Data {
	if a == nil {
		a = memory.Default()
	}
	d := &Data{
		alloc: a,
		meta:  metadata.NewWithAllocator(a),
	}
	d.guard.Arm()
	observability.RecordDataObject("create")
	return d
}

// IsValid reports whether d is alive.
func (d *Data) IsValid() bool {
	return d != nil && d.guard.Valid()
}

func (d *Data) check() error {
	if !d.IsValid() {
		log := logging.For("edgedata")
		log.Error().Msg("invalid param, given edge data is invalid")
		return edge.Invalid("edge data handle is invalid")
	}
	return nil
}

// Destroy releases every owned buffer and the metadata. A second call fails
// with ErrInvalidParameter.
func (d *Data) Destroy() error {
	if d == nil || !d.guard.Kill() {
		log := logging.For("edgedata")
		log.Error().Msg("invalid param, given edge data is invalid")
		return edge.Invalid("edge data handle is invalid")
	}
	for i := 0; i < d.count; i++ {
		d.buffers[i].Release()
	}
	d.count = 0
	d.meta.Clear()
	observability.RecordDataObject("destroy")
	return nil
}

// Copy returns a new object holding private duplicates of every buffer and
// a copy of the metadata. On failure nothing is left allocated and d is
// untouched.
func (d *Data) Copy() (*Data, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	copied := NewWithAllocator(d.alloc)
	for i := 0; i < d.count; i++ {
		dup, err := d.alloc.Dup(d.buffers[i].Bytes())
		if err != nil {
			_ = copied.Destroy()
			return nil, err
		}
		copied.buffers[i] = memory.Owned(dup, d.alloc.Free)
		copied.count++
	}
	if err := metadata.Copy(copied.meta, d.meta); err != nil {
		_ = copied.Destroy()
		return nil, err
	}
	observability.RecordDataObject("copy")
	return copied, nil
}

// Add appends buf at the next free slot. The bytes are stored as given;
// buf's ownership decides whether Destroy releases them.
func (d *Data) Add(buf memory.Buffer) error {
	if err := d.check(); err != nil {
		return err
	}
	if d.count >= Limit {
		log := logging.For("edgedata")
		log.Error().Int("limit", Limit).Msg("cannot add data, the maximum number of edge data is reached")
		return edge.Invalid("edge data already holds %d buffers", Limit)
	}
	if buf.Len() == 0 {
		log := logging.For("edgedata")
		log.Error().Msg("invalid param, data should not be empty")
		return edge.Invalid("edge data buffer is empty")
	}
	d.buffers[d.count] = buf
	d.count++
	return nil
}

// Get returns the bytes stored at index. They stay owned by d; copy them to
// keep them past Destroy.
func (d *Data) Get(index int) ([]byte, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if index < 0 || index >= d.count {
		log := logging.For("edgedata")
		log.Error().Int("count", d.count).Int("index", index).Msg("invalid param, index out of range")
		return nil, edge.Invalid("edge data holds %d buffers, requested index %d", d.count, index)
	}
	return d.buffers[index].Bytes(), nil
}

// Count returns the number of stored buffers.
func (d *Data) Count() (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return d.count, nil
}

func (d *Data) SetInfo(key, value string) error {
	if err := d.check(); err != nil {
		return err
	}
	return d.meta.Set(key, value)
}

// GetInfo returns a private copy of the value under key, charged to d's
// allocator. Hand it back with FreeInfo.
func (d *Data) GetInfo(key string) (string, error) {
	if err := d.check(); err != nil {
		return "", err
	}
	return d.meta.Get(key)
}

// FreeInfo returns a GetInfo copy to d's allocator. It stays usable after
// Destroy.
func (d *Data) FreeInfo(v string) {
	d.alloc.FreeString(v)
}

// InfoKeys returns the metadata keys in serialization order.
func (d *Data) InfoKeys() ([]string, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return d.meta.Keys(), nil
}

// SerializeMetadata encodes only the metadata header; raw buffers travel
// separately. The blob is charged to d's allocator; hand it back with
// FreeMetadata.
func (d *Data) SerializeMetadata() ([]byte, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return d.meta.Serialize()
}

func (d *Data) FreeMetadata(b []byte) {
	d.alloc.Free(b)
}

func (d *Data) DeserializeMetadata(data []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	return d.meta.Deserialize(data)
}
