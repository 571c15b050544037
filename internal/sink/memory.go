package sink

import "io"

// MemorySource serves fixed RecordSize chunks from an in-memory byte
// slice, letting protocol tests drive the sender without a filesystem.
type MemorySource struct {
	data []byte
	pos  int
}

// NewMemorySource wraps data for sequential RecordSize-chunked reads.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

func (m *MemorySource) Next() ([]byte, error) {
	if m.pos >= len(m.data) {
		return nil, io.EOF
	}
	end := m.pos + RecordSize
	if end > len(m.data) {
		end = len(m.data)
	}
	chunk := m.data[m.pos:end]
	m.pos = end
	return chunk, nil
}

// MemorySink accumulates positional writes into a growable in-memory
// buffer, for tests that assert on receiver output without touching disk.
type MemorySink struct {
	buf    []byte
	closed bool
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) WriteAt(seq byte, payload []byte) error {
	off := int(seq) * RecordSize
	need := off + len(payload)
	if need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:], payload)
	return nil
}

func (m *MemorySink) Finalize(explicitLen int) error {
	if explicitLen >= 0 {
		if explicitLen <= len(m.buf) {
			m.buf = m.buf[:explicitLen]
		} else {
			grown := make([]byte, explicitLen)
			copy(grown, m.buf)
			m.buf = grown
		}
		return nil
	}
	end := len(m.buf)
	for end > 0 && m.buf[end-1] == 0 {
		end--
	}
	m.buf = m.buf[:end]
	return nil
}

func (m *MemorySink) Close() error {
	m.closed = true
	return nil
}

// Bytes returns the sink's current contents. Valid any time, but only
// reflects truncation after Finalize has been called.
func (m *MemorySink) Bytes() []byte { return m.buf }
