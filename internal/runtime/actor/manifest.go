package actor

import (
	"fmt"
	"hash/fnv"

	semver "github.com/Masterminds/semver/v3"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
)

// SupportedFormats is the bytecode format range this executor understands.
const SupportedFormats = "^1.0.0"

var supportedFormats = mustConstraint(SupportedFormats)

func mustConstraint(expr string) *semver.Constraints {
	c, err := semver.NewConstraint(expr)
	if err != nil {
		panic(err)
	}
	return c
}

// Manifest is the immutable (content hash, bytecode) pair produced by the
// external compiler. Many actors may be spawned from one Manifest; each copies
// the bytecode into its own buffer.
type Manifest struct {
	hash     uint64
	format   *semver.Version
	bytecode []byte
}

// NewManifest validates and freezes compiler output. A zero hash is replaced
// by the FNV-1a digest of the bytecode; an empty format means 1.0.0.
func NewManifest(hash uint64, bytecode []byte, format string) (*Manifest, error) {
	if len(bytecode) > MaxBytecode {
		return nil, rterrors.CapacityExhausted("bytecode buffer", MaxBytecode)
	}
	if format == "" {
		format = "1.0.0"
	}
	v, err := semver.NewVersion(format)
	if err != nil {
		return nil, fmt.Errorf("manifest format %q: %w", format, rterrors.ErrUnsupportedFormat)
	}
	if !supportedFormats.Check(v) {
		return nil, rterrors.NewStandardError(rterrors.CategoryValidation, "UNSUPPORTED_FORMAT",
			fmt.Sprintf("manifest format %s outside %s", v, SupportedFormats), rterrors.ErrUnsupportedFormat,
			map[string]interface{}{"format": v.String()})
	}
	code := make([]byte, len(bytecode))
	copy(code, bytecode)
	if hash == 0 {
		h := fnv.New64a()
		_, _ = h.Write(code)
		hash = h.Sum64()
	}
	return &Manifest{hash: hash, format: v, bytecode: code}, nil
}

// Hash returns the content hash.
func (m *Manifest) Hash() uint64 { return m.hash }

// Format returns the bytecode format version.
func (m *Manifest) Format() string { return m.format.String() }

// Len returns the bytecode length.
func (m *Manifest) Len() int { return len(m.bytecode) }

// Bytecode returns a copy of the bytecode.
func (m *Manifest) Bytecode() []byte {
	out := make([]byte, len(m.bytecode))
	copy(out, m.bytecode)
	return out
}
