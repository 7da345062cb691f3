package proxywasm

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemory is a minimal in-process GuestMemory backing store for exercising
// Marshaler without a real wazero instance, mirroring how the teacher's
// engine-level tests stand in for a guest module.
type fakeMemory struct {
	buf []byte
}

func newFakeMemory(size uint32) *fakeMemory {
	return &fakeMemory{buf: make([]byte, size)}
}

func (m *fakeMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	if uint64(offset)+uint64(byteCount) > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[offset : offset+byteCount], true
}

func (m *fakeMemory) Write(offset uint32, data []byte) bool {
	if uint64(offset)+uint64(len(data)) > uint64(len(m.buf)) {
		return false
	}
	copy(m.buf[offset:], data)
	return true
}

func (m *fakeMemory) WriteUint32Le(offset, value uint32) bool {
	if uint64(offset)+4 > uint64(len(m.buf)) {
		return false
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], value)
	return true
}

func (m *fakeMemory) Size() uint32 { return uint32(len(m.buf)) }

func (m *fakeMemory) Grow(deltaPages uint32) (uint32, bool) {
	prev := uint32(len(m.buf)) / 65536
	m.buf = append(m.buf, make([]byte, deltaPages*65536)...)
	return prev, true
}

// fakeAllocator bump-allocates from the end of whatever has already been
// handed out, matching the engine's bump-allocator fallback strategy
// (spec §4.2) closely enough for Marshaler-level tests.
func fakeAllocator(mem *fakeMemory) Allocator {
	var next uint32
	return func(ctx context.Context, size uint32) (uint32, error) {
		ptr := next
		next += size
		if next > mem.Size() {
			mem.Grow((next-mem.Size())/65536 + 1)
		}
		return ptr, nil
	}
}

func TestMarshalerReadBytesOutOfRange(t *testing.T) {
	mem := newFakeMemory(16)
	m := NewMarshaler(mem, fakeAllocator(mem))
	_, err := m.ReadBytes(10, 100)
	assert.Error(t, err)
}

func TestMarshalerReadStringReplacesInvalidUTF8(t *testing.T) {
	mem := newFakeMemory(16)
	mem.Write(0, []byte{0xff, 0xfe, 'h', 'i'})
	m := NewMarshaler(mem, fakeAllocator(mem))

	s, err := m.ReadString(0, 4)
	require.NoError(t, err)
	assert.Contains(t, s, "hi")
}

func TestMarshalerReadNulTerminatedString(t *testing.T) {
	mem := newFakeMemory(32)
	mem.Write(0, append([]byte("hello"), 0))
	m := NewMarshaler(mem, fakeAllocator(mem))

	s, err := m.ReadNulTerminatedString(0)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestMarshalerWriteResultRoundTrips(t *testing.T) {
	mem := newFakeMemory(256)
	m := NewMarshaler(mem, fakeAllocator(mem))

	ptrOut, lenOut := uint32(200), uint32(204)
	require.NoError(t, m.WriteResult(context.Background(), []byte("payload"), ptrOut, lenOut))

	rawPtr, ok := mem.Read(ptrOut, 4)
	require.True(t, ok)
	ptr := binary.LittleEndian.Uint32(rawPtr)

	rawLen, ok := mem.Read(lenOut, 4)
	require.True(t, ok)
	length := binary.LittleEndian.Uint32(rawLen)

	got, err := m.ReadBytes(ptr, length)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestMarshalerWriteResultEmptyStillAllocates(t *testing.T) {
	mem := newFakeMemory(256)
	m := NewMarshaler(mem, fakeAllocator(mem))

	require.NoError(t, m.WriteResult(context.Background(), nil, 0, 4))
	rawLen, ok := mem.Read(4, 4)
	require.True(t, ok)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(rawLen))
}
