package wal

// Options configures a WAL file's in-memory buffering. Unlike the
// teacher's three-policy model (SyncEveryWrite/SyncInterval/SyncBatch),
// EmbedDB's append contract is explicit per call (see Wal.Append's
// durable parameter), so Options only controls the bufio layer between
// writes.
type Options struct {
	BufferSize int
}

func DefaultOptions() Options {
	return Options{BufferSize: 64 * 1024}
}
