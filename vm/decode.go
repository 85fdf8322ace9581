package vm

// Immediate-reading helpers for the dispatch loop (spec §4.1). All
// multi-byte immediates are big-endian, unlike the teacher's little-endian
// stack machine — the bytecode this interpreter consumes comes from a
// different, JVM/C0VM-flavored producer and that byte order is fixed by
// spec §4.1, not a free implementation choice.

// decodeI8 sign-extends the single byte at code[pc] to int32.
func decodeI8(code []byte, pc int) int32 {
	return int32(int8(code[pc]))
}

// decodeU16 reads a big-endian unsigned 16-bit immediate at code[pc:pc+2].
func decodeU16(code []byte, pc int) uint16 {
	return uint16(code[pc])<<8 | uint16(code[pc+1])
}

// decodeI16 reads a big-endian signed 16-bit immediate (branch offsets)
// at code[pc:pc+2].
func decodeI16(code []byte, pc int) int32 {
	return int32(int16(decodeU16(code, pc)))
}

// decodeU8 reads a single unsigned byte immediate (VLOAD/VSTORE/AADDF
// operands) at code[pc].
func decodeU8(code []byte, pc int) uint8 {
	return code[pc]
}
