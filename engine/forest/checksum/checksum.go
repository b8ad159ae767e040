// Package checksum provides the block checksum algorithms used by the
// forest engine's flat-log record format: CRC32C and XXH3.
//
// Grounded on the teacher's internal/checksum package (types.go,
// crc32c.go), trimmed to the two algorithms forest's frame format can
// name; forest writes CRC32C and verifies whichever type a frame names.
// Unlike the teacher, which declares github.com/zeebo/xxh3 in go.mod
// but hand-rolls XXH3 arithmetic in xxhash64.go/xxh3.go instead of
// importing it, this package calls the real library (see DESIGN.md).
package checksum

import (
	"fmt"
	"hash/crc32"

	"github.com/zeebo/xxh3"
)

// Type identifies which checksum algorithm protects a record.
type Type uint8

const (
	// TypeCRC32C is CRC32C (Castagnoli), forest's default.
	TypeCRC32C Type = 1
	// TypeXXH3 is XXH3 (low 32 bits). forest verifies frames that name
	// it but does not write it.
	TypeXXH3 Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeCRC32C:
		return "CRC32C"
	case TypeXXH3:
		return "XXH3"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// maskDelta matches RocksDB's crc32c::kMaskDelta, carried forward from
// the teacher so masked checksums stay distinguishable from raw ones on
// disk.
const maskDelta = 0xa282ead8

// Value computes the raw CRC32C of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// Mask returns a masked representation of crc, safe to embed in a
// buffer that itself gets checksummed.
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask reverses Mask.
func Unmask(maskedCRC uint32) uint32 {
	rot := maskedCRC - maskDelta
	return (rot >> 17) | (rot << 15)
}

// Compute returns the checksum of data under algorithm t.
func Compute(t Type, data []byte) (uint32, error) {
	switch t {
	case TypeCRC32C:
		return Mask(Value(data)), nil
	case TypeXXH3:
		return uint32(xxh3.Hash(data) & 0xffffffff), nil
	default:
		return 0, fmt.Errorf("checksum: unsupported type %s", t)
	}
}

// Verify recomputes data's checksum under t and compares it to want.
func Verify(t Type, data []byte, want uint32) error {
	got, err := Compute(t, data)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("checksum: mismatch under %s: got %#x, want %#x", t, got, want)
	}
	return nil
}
