package wal

import "sync"

// pool.go keeps WAL replay and append off the allocator's hot path for
// every record, the way the teacher's pkg/wal/pool.go reuses entries and
// byte buffers via sync.Pool.

var entryPool = sync.Pool{
	New: func() interface{} {
		return &WALEntry{Payload: make([]byte, 0, 4096)}
	},
}

func AcquireEntry() *WALEntry {
	return entryPool.Get().(*WALEntry)
}

func ReleaseEntry(e *WALEntry) {
	e.CRC32 = 0
	e.Payload = e.Payload[:0]
	entryPool.Put(e)
}
