// Package metadata owns the key/value side channel attached to edge data and
// its wire encoding.
//
// Keys are unique under ASCII case-insensitive comparison. Iteration and
// serialization follow first-insertion order; replacing a value keeps the
// key's slot.
package metadata

import (
	"strings"

	"github.com/danmuck/edgemsg/internal/edge"
	"github.com/danmuck/edgemsg/internal/logging"
	"github.com/danmuck/edgemsg/internal/memory"
)

type node struct {
	key   string
	value string
}

// Store is an ordered, case-insensitive key/value collection. The zero
// value is an empty store charged to the process allocator. A Store is not
// safe for concurrent mutation.
type Store struct {
	alloc *memory.Allocator
	nodes []node
	index map[string]int
}

func New() *Store {
	return NewWithAllocator(memory.Default())
}

// NewWithAllocator returns an empty store whose keys and values are charged
// to a.
func NewWithAllocator(a *memory.Allocator) *Store {
	return &Store{alloc: a}
}

func (s *Store) allocator() *memory.Allocator {
	if s.alloc == nil {
		s.alloc = memory.Default()
	}
	return s.alloc
}

// Len returns the number of key/value pairs.
func (s *Store) Len() int {
	return len(s.nodes)
}

func (s *Store) find(key string) (int, bool) {
	if s.index == nil {
		return 0, false
	}
	i, ok := s.index[foldKey(key)]
	return i, ok
}

// Set stores a private copy of value under key, replacing the value of a
// key that matches case-insensitively. On failure the store is unchanged.
func (s *Store) Set(key, value string) error {
	if err := validString("key", key); err != nil {
		return err
	}
	if err := validString("value", value); err != nil {
		return err
	}
	a := s.allocator()

	if i, ok := s.find(key); ok {
		v, err := a.DupString(value)
		if err != nil {
			return err
		}
		a.FreeString(s.nodes[i].value)
		s.nodes[i].value = v
		return nil
	}

	k, err := a.DupString(key)
	if err != nil {
		return err
	}
	v, err := a.DupString(value)
	if err != nil {
		a.FreeString(k)
		return err
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	s.index[foldKey(k)] = len(s.nodes)
	s.nodes = append(s.nodes, node{key: k, value: v})
	return nil
}

// Get returns a private copy of the value stored under key. The copy is
// charged to the store's allocator; hand it back with FreeString when done.
func (s *Store) Get(key string) (string, error) {
	if key == "" {
		return "", edge.Invalid("metadata key is empty")
	}
	i, ok := s.find(key)
	if !ok {
		return "", edge.Invalid("metadata key %q not found", key)
	}
	return s.allocator().DupString(s.nodes[i].value)
}

// FreeString returns a copy obtained from Get to the store's allocator.
func (s *Store) FreeString(v string) {
	s.allocator().FreeString(v)
}

// Keys returns the stored keys in serialization order.
func (s *Store) Keys() []string {
	out := make([]string, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.key)
	}
	return out
}

// Clear releases every pair.
func (s *Store) Clear() {
	if len(s.nodes) > 0 {
		a := s.allocator()
		for _, n := range s.nodes {
			a.FreeString(n.key)
			a.FreeString(n.value)
		}
	}
	s.nodes = nil
	s.index = nil
}

// Copy replaces dst's content with src's. The new content is built aside
// first, so dst is untouched when any pair fails to copy.
func Copy(dst, src *Store) error {
	if dst == nil || src == nil {
		return edge.Invalid("metadata copy requires both stores")
	}
	tmp := NewWithAllocator(dst.allocator())
	for _, n := range src.nodes {
		if err := tmp.Set(n.key, n.value); err != nil {
			tmp.Clear()
			return err
		}
	}
	dst.Clear()
	dst.nodes = tmp.nodes
	dst.index = tmp.index
	return nil
}

func validString(name, s string) error {
	if s == "" {
		log := logging.For("metadata")
		log.Error().Str("field", name).Msg("invalid param, string is empty")
		return edge.Invalid("metadata %s is empty", name)
	}
	if strings.IndexByte(s, 0) >= 0 {
		log := logging.For("metadata")
		log.Error().Str("field", name).Msg("invalid param, string contains NUL")
		return edge.Invalid("metadata %s contains a NUL byte", name)
	}
	return nil
}

// foldKey lowers ASCII letters only. Every other byte, including invalid
// UTF-8 and non-ASCII letters, is kept as is so distinct byte strings never
// share a slot.
func foldKey(key string) string {
	i := 0
	for i < len(key) && !isUpper(key[i]) {
		i++
	}
	if i == len(key) {
		return key
	}
	b := []byte(key)
	for ; i < len(b); i++ {
		if isUpper(b[i]) {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func isUpper(c byte) bool {
	return 'A' <= c && c <= 'Z'
}
