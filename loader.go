package proxywasm

import (
	"bytes"
	"context"
	"fmt"
	"os"
)

// BinaryFormat classifies a WASM binary's header bytes, per spec §6's
// detection rule discriminating the proxy-wasm host from the component-model
// HTTP runner.
type BinaryFormat int

const (
	FormatUnknown BinaryFormat = iota
	FormatCoreModule
	FormatComponent
)

var (
	coreModuleMagic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	componentMagic  = []byte{0x00, 0x61, 0x73, 0x6d, 0x0a, 0x00, 0x01, 0x00}
)

// DetectFormat inspects the first 8 bytes of a WASM binary to route between
// this proxy-wasm host and the component-model HTTP runner (spec §6).
func DetectFormat(code []byte) BinaryFormat {
	if len(code) < 8 {
		return FormatUnknown
	}
	switch {
	case bytes.Equal(code[:8], componentMagic):
		return FormatComponent
	case bytes.Equal(code[:8], coreModuleMagic):
		return FormatCoreModule
	default:
		return FormatUnknown
	}
}

// Source identifies guest WASM bytes either inline or via a filesystem path,
// per spec §4.1's "accepts either a binary blob or a filesystem path".
type Source struct {
	Bytes []byte
	Path  string
}

// Read returns the guest's raw bytes, reading from Path when Bytes is empty.
func (s Source) Read() ([]byte, error) {
	if len(s.Bytes) > 0 {
		return s.Bytes, nil
	}
	if s.Path == "" {
		return nil, fmt.Errorf("proxywasm: source has neither inline bytes nor a path")
	}
	return os.ReadFile(s.Path)
}

// Load reads src, detects its binary format, and -- for a core WASM module
// -- compiles it into a reusable Module via eng. Component-model binaries
// are reported back uncompiled (FormatComponent, nil Module) so the caller
// can route them to the separate component-model HTTP runner instead (spec
// §4.1, §6).
func Load(ctx context.Context, eng Engine, src Source) (Module, BinaryFormat, error) {
	code, err := src.Read()
	if err != nil {
		return nil, FormatUnknown, NewHostError(KindModuleLoadFailure, err)
	}

	format := DetectFormat(code)
	if format == FormatComponent {
		return nil, format, nil
	}
	if format == FormatUnknown {
		return nil, format, NewHostError(KindModuleLoadFailure,
			fmt.Errorf("unrecognized WASM binary header"))
	}

	mod, err := eng.Compile(ctx, code)
	if err != nil {
		return nil, format, err
	}
	return mod, format, nil
}
