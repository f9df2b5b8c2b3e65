// Package endian provides the byte orders used by millipede's binary formats.
//
// Two formats are involved and they deliberately use different orders:
//
//   - Shared-memory blob sequences are only ever read by a process on the same
//     host that wrote them, so they use the host's native order
//     (GetNativeEngine).
//   - Blob files live in a possibly remote working directory shared by many
//     hosts, so they always use little-endian (GetLittleEndianEngine).
//
// # Thread Safety
//
// All functions in this package are safe for concurrent use. The returned
// EndianEngine values are immutable and stateless.
package endian

import (
	"encoding/binary"
	"unsafe"
)

// EndianEngine combines ByteOrder and AppendByteOrder from encoding/binary.
//
// It is satisfied by binary.LittleEndian and binary.BigEndian.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

var native = detectNative()

// detectNative inspects the in-memory layout of a fixed value to find the host byte order.
func detectNative() EndianEngine {
	var i uint16 = 0x0100
	b := (*[2]byte)(unsafe.Pointer(&i))
	if b[0] == 0x01 {
		return binary.BigEndian
	}

	return binary.LittleEndian
}

// CheckEndianness returns the host's byte order.
func CheckEndianness() binary.ByteOrder {
	return native
}

// IsNativeLittleEndian reports whether the host is little-endian.
func IsNativeLittleEndian() bool {
	return native == binary.LittleEndian
}

// GetNativeEngine returns the host's byte order as an EndianEngine.
func GetNativeEngine() EndianEngine {
	return native
}

// GetLittleEndianEngine returns the little-endian engine.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}
