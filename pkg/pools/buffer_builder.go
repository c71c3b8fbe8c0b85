package pools

// BufferBuilder assembles an on-disk frame (a WAL transaction group, an
// index block) in a pooled buffer so the whole frame reaches the file
// writer as one contiguous write.
type BufferBuilder struct {
	buf  []byte
	pool *BytePool
}

// NewBufferBuilder creates a builder backed by the default byte pool.
func NewBufferBuilder(initialCap int) *BufferBuilder {
	return &BufferBuilder{
		buf:  defaultBytePool.Get(initialCap),
		pool: defaultBytePool,
	}
}

// Write appends raw bytes.
func (b *BufferBuilder) Write(p []byte) {
	b.buf = append(b.buf, p...)
}

// WriteUint64LE appends a uint64 in little-endian order, the byte order
// the WAL and SSTable formats use on disk.
func (b *BufferBuilder) WriteUint64LE(v uint64) {
	b.buf = append(b.buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// WriteUint32LE appends a uint32 in little-endian order.
func (b *BufferBuilder) WriteUint32LE(v uint32) {
	b.buf = append(b.buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
	)
}

// Bytes returns the assembled frame. Valid until Reset or Release.
func (b *BufferBuilder) Bytes() []byte {
	return b.buf
}

// Len returns the current frame length.
func (b *BufferBuilder) Len() int {
	return len(b.buf)
}

// Reset empties the builder for reuse without returning its buffer.
func (b *BufferBuilder) Reset() {
	b.buf = b.buf[:0]
}

// Release returns the buffer to the pool. The builder must not be used
// afterwards.
func (b *BufferBuilder) Release() {
	if b.pool != nil && b.buf != nil {
		b.pool.Put(b.buf)
	}
	b.buf = nil
}
