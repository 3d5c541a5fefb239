// Package bx holds small byte-order helpers shared by the on-disk and
// on-log encodings.
package bx

import "encoding/binary"

var LE = binary.LittleEndian

func U32(b []byte) uint32       { return LE.Uint32(b) }
func U64(b []byte) uint64       { return LE.Uint64(b) }
func PutU32(b []byte, v uint32) { LE.PutUint32(b, v) }
func PutU64(b []byte, v uint64) { LE.PutUint64(b, v) }
