package internal_audio

// DurationBuffer accumulates variable-sized PCM chunks until a target
// duration's worth of samples has arrived. Single producer, single consumer;
// the owning session is the only writer.
type DurationBuffer struct {
	target int
	chunks [][]int16
	total  int
}

// NewDurationBuffer sizes the buffer for targetMs of audio at sampleRate.
func NewDurationBuffer(targetMs, sampleRate int) *DurationBuffer {
	return &DurationBuffer{target: targetMs * sampleRate / 1000}
}

// Push appends a chunk. The chunk is retained, not copied; callers must not
// mutate it afterwards.
func (b *DurationBuffer) Push(chunk []int16) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
	b.total += len(chunk)
}

// Ready reports whether at least the target duration has accumulated.
func (b *DurationBuffer) Ready() bool { return b.total >= b.target }

// Len returns the number of buffered samples.
func (b *DurationBuffer) Len() int { return b.total }

// Flush concatenates and clears the buffer.
func (b *DurationBuffer) Flush() []int16 {
	if b.total == 0 {
		return nil
	}
	out := make([]int16, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = b.chunks[:0]
	b.total = 0
	return out
}

// Reset discards all buffered audio.
func (b *DurationBuffer) Reset() {
	b.chunks = b.chunks[:0]
	b.total = 0
}

// ChunkSplitter re-frames a byte stream into fixed-size chunks, retaining the
// tail until enough bytes arrive. Used to split oversized AI audio deltas
// into 20 ms telephony frames.
type ChunkSplitter struct {
	size int
	tail []byte
}

// NewChunkSplitter emits chunks of exactly size bytes.
func NewChunkSplitter(size int) *ChunkSplitter {
	return &ChunkSplitter{size: size}
}

// Push appends data and returns all complete chunks now available, in order.
func (c *ChunkSplitter) Push(data []byte) [][]byte {
	c.tail = append(c.tail, data...)
	var out [][]byte
	for len(c.tail) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.tail[:c.size])
		out = append(out, chunk)
		c.tail = c.tail[c.size:]
	}
	return out
}

// Pending returns the number of tail bytes not yet emitted.
func (c *ChunkSplitter) Pending() int { return len(c.tail) }

// Reset discards the tail. Called on barge-in so stale assistant audio never
// reaches the caller.
func (c *ChunkSplitter) Reset() { c.tail = c.tail[:0] }
