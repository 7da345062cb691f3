package proxywasm

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
)

// GuestMemory is the minimal linear-memory surface the Marshaler needs. It
// is implemented by the wazero engine's Instance (engines/wazero) so the
// marshaling logic itself stays engine-agnostic, per spec §4.2.
type GuestMemory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, data []byte) bool
	WriteUint32Le(offset, value uint32) bool
	Size() uint32
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// Allocator requests byteCount bytes of guest-owned memory and returns a
// pointer to them. Per spec §4.2, an Instance's Allocator tries the guest's
// proxy_on_memory_allocate export, then malloc, then falls back to a
// host-side bump allocator -- that three-tier strategy lives in the engine
// (it must be able to call guest exports); Marshaler only needs the result.
type Allocator func(ctx context.Context, size uint32) (ptr uint32, err error)

// Marshaler implements spec §4.2's linear-memory contract: byte/string
// reads, little-endian u32 writes, guest-memory allocation, and the
// pointer-to-pointer result-writing pattern used throughout the ABI.
type Marshaler struct {
	mem   GuestMemory
	alloc Allocator
}

// NewMarshaler builds a Marshaler bound to one instance's memory and
// allocation strategy. A fresh Marshaler is created per hook invocation,
// mirroring the fresh-Instance-per-hook rule in spec §3.
func NewMarshaler(mem GuestMemory, alloc Allocator) *Marshaler {
	return &Marshaler{mem: mem, alloc: alloc}
}

// ReadBytes returns the byteCount bytes starting at offset, or an error if
// that range falls outside the guest's linear memory.
func (m *Marshaler) ReadBytes(offset, byteCount uint32) ([]byte, error) {
	if byteCount == 0 {
		return nil, nil
	}
	buf, ok := m.mem.Read(offset, byteCount)
	if !ok {
		return nil, fmt.Errorf("out of range reading %d bytes at offset %d (memory size %d)", byteCount, offset, m.mem.Size())
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// ReadString decodes byteCount bytes at offset as UTF-8. Invalid sequences
// are replaced, never raised, per spec §4.2.
func (m *Marshaler) ReadString(offset, byteCount uint32) (string, error) {
	b, err := m.ReadBytes(offset, byteCount)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

// ReadNulTerminatedString reads starting at ptr until a NUL byte, used only
// by the abort/trace helpers that pass a bare pointer with no explicit
// length (spec §4.2).
func (m *Marshaler) ReadNulTerminatedString(ptr uint32) (string, error) {
	const chunk = 256
	var out []byte
	offset := ptr
	for {
		buf, ok := m.mem.Read(offset, chunk)
		if !ok {
			// Fall back to reading whatever remains in memory.
			remaining := m.mem.Size() - offset
			if remaining == 0 {
				return "", fmt.Errorf("out of range reading NUL-terminated string at %d", ptr)
			}
			buf, ok = m.mem.Read(offset, remaining)
			if !ok {
				return "", fmt.Errorf("out of range reading NUL-terminated string at %d", ptr)
			}
			if idx := indexByte(buf, 0); idx >= 0 {
				out = append(out, buf[:idx]...)
				return strings.ToValidUTF8(string(out), "�"), nil
			}
			out = append(out, buf...)
			return strings.ToValidUTF8(string(out), "�"), nil
		}
		if idx := indexByte(buf, 0); idx >= 0 {
			out = append(out, buf[:idx]...)
			return strings.ToValidUTF8(string(out), "�"), nil
		}
		out = append(out, buf...)
		offset += chunk
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// WriteU32 writes value little-endian at ptr.
func (m *Marshaler) WriteU32(ptr, value uint32) error {
	if !m.mem.WriteUint32Le(ptr, value) {
		return fmt.Errorf("out of range writing u32 at %d", ptr)
	}
	return nil
}

// WriteBytes writes data at ptr without allocating.
func (m *Marshaler) WriteBytes(ptr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !m.mem.Write(ptr, data) {
		return fmt.Errorf("out of range writing %d bytes at %d", len(data), ptr)
	}
	return nil
}

// WriteToGuest allocates len(bytes) bytes of guest memory and copies bytes
// into it, returning the pointer.
func (m *Marshaler) WriteToGuest(ctx context.Context, bytes []byte) (uint32, error) {
	if len(bytes) == 0 {
		// Still allocate so callers get a valid, distinct pointer for a
		// zero-length result (an empty property or header value).
		ptr, err := m.alloc(ctx, 0)
		if err != nil {
			return 0, err
		}
		return ptr, nil
	}
	ptr, err := m.alloc(ctx, uint32(len(bytes)))
	if err != nil {
		return 0, err
	}
	if err := m.WriteBytes(ptr, bytes); err != nil {
		return 0, err
	}
	return ptr, nil
}

// WriteResult implements the pointer-to-pointer result pattern used by
// nearly every proxy-wasm ABI call: allocate guest memory containing bytes,
// then store its pointer and length at ptrOut/lenOut.
func (m *Marshaler) WriteResult(ctx context.Context, bytes []byte, ptrOut, lenOut uint32) error {
	ptr, err := m.WriteToGuest(ctx, bytes)
	if err != nil {
		return err
	}
	if err := m.WriteU32(ptrOut, ptr); err != nil {
		return err
	}
	return m.WriteU32(lenOut, uint32(len(bytes)))
}

// le is a small helper retained for callers that need to hand-roll a u32
// prefix without going through WriteU32 (e.g. constructing wire payloads in
// tests).
func le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
