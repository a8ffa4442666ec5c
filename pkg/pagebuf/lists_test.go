// pkg/pagebuf/lists_test.go

package pagebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func entryWithSize(size uint64) *Entry {
	return &Entry{size: size}
}

func TestLRUOrdering(t *testing.T) {
	var lru lruList
	a, b, c := entryWithSize(1), entryWithSize(2), entryWithSize(4)

	lru.insertHead(a)
	lru.insertHead(b)
	lru.insertHead(c)
	assert.Equal(t, 3, lru.len)
	assert.Equal(t, uint64(7), lru.size)
	assert.Same(t, c, lru.head)
	assert.Same(t, a, lru.tail)

	// access moves to the head
	lru.access(a)
	assert.Same(t, a, lru.head)
	assert.Same(t, b, lru.tail)

	// access on the head is a no-op
	lru.access(a)
	assert.Same(t, a, lru.head)

	lru.remove(b)
	assert.Equal(t, 2, lru.len)
	assert.Same(t, c, lru.tail)
	assert.False(t, b.onLRU)

	// append goes to the tail
	lru.append(b)
	assert.Same(t, b, lru.tail)

	lru.remove(a)
	lru.remove(c)
	lru.remove(b)
	assert.Zero(t, lru.len)
	assert.Nil(t, lru.head)
	assert.Nil(t, lru.tail)
}

func TestDWLKeepsDecreasingOrder(t *testing.T) {
	var dwl dwList
	mk := func(until uint64) *Entry {
		e := entryWithSize(1)
		e.delayWriteUntil = until
		return e
	}

	e5, e2, e9, e7 := mk(5), mk(2), mk(9), mk(7)
	assert.Equal(t, 0, dwl.insert(e5))
	assert.Equal(t, 1, dwl.insert(e2))
	assert.Equal(t, 0, dwl.insert(e9))
	assert.Equal(t, 1, dwl.insert(e7))

	var got []uint64
	for e := dwl.head; e != nil; e = e.dwlNext {
		got = append(got, e.delayWriteUntil)
	}
	assert.Equal(t, []uint64{9, 7, 5, 2}, got)
	assert.Same(t, e2, dwl.tail)

	dwl.remove(e2)
	assert.Same(t, e5, dwl.tail)
	dwl.remove(e9)
	assert.Same(t, e7, dwl.head)
	assert.Equal(t, 2, dwl.len)
}

func TestTickListMembership(t *testing.T) {
	var tl tlList
	a, b := entryWithSize(1), entryWithSize(1)

	tl.insertHead(a)
	tl.insertHead(b)
	assert.True(t, a.modifiedThisTick)
	assert.Equal(t, 2, tl.len)
	assert.Same(t, b, tl.head)
	assert.Same(t, a, tl.tail)

	tl.remove(a)
	assert.False(t, a.modifiedThisTick)
	assert.Same(t, b, tl.tail)
	tl.remove(b)
	assert.Zero(t, tl.len)
	assert.Nil(t, tl.head)
}
