package memory

import "sync/atomic"

// Releaser is invoked exactly once with the stored slice when an owning
// container lets go of an owned buffer.
type Releaser func(data []byte)

// releaseOnce is shared by every copy of an owned Buffer, so the releaser
// runs once no matter which copy releases.
type releaseOnce struct {
	fn   Releaser
	done atomic.Bool
}

// Buffer is a byte slice plus its ownership. An owned buffer carries the
// releaser that its container must call; a borrowed buffer stays the
// caller's responsibility.
type Buffer struct {
	data []byte
	rel  *releaseOnce
}

// Owned tags data as handed over with release. A nil release is the same
// as Borrowed. Copies of the result share one release: once a container
// has taken the buffer, releasing the caller's copy is a no-op after the
// container released it, and vice versa.
func Owned(data []byte, release Releaser) Buffer {
	if release == nil {
		return Borrowed(data)
	}
	return Buffer{data: data, rel: &releaseOnce{fn: release}}
}

// Borrowed tags data as still owned by the caller.
func Borrowed(data []byte) Buffer {
	return Buffer{data: data}
}

func (b Buffer) Bytes() []byte {
	return b.data
}

func (b Buffer) Len() int {
	return len(b.data)
}

func (b Buffer) IsOwned() bool {
	return b.rel != nil
}

// Release runs the releaser of an owned buffer unless some copy of it
// already did, and empties b.
func (b *Buffer) Release() {
	rel, data := b.rel, b.data
	b.rel = nil
	b.data = nil
	if rel != nil && rel.done.CompareAndSwap(false, true) {
		rel.fn(data)
	}
}
