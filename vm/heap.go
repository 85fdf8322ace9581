package vm

import "encoding/binary"

// Addr is a logical heap address: an offset into the interpreter's byte
// arena. Address 0 is reserved and never returned by an allocation, so it
// doubles as the null pointer (spec §3 invariant 5).
type Addr uint32

const wordSize = 4

// arrayHeader is the side-table metadata NEWARRAY produces. The pointer an
// array opcode carries on the operand stack addresses this header, not the
// element bytes directly — mirroring the source's separate c0_array struct
// and elems block (original_source/c0vm.c, NEWARRAY/AADDS).
type arrayHeader struct {
	count    int32
	eltSize  int32
	elemsPtr Addr
}

// Heap is the program's allocate-only arena: scalar cells, records, and
// array element blocks all live in one growable byte slice addressed by
// Addr. Per spec §5/§9 there is no reclamation — an arena tied to the
// program's lifetime is the correct and intended implementation, and
// because Addr is a plain integer offset rather than a Go pointer, growing
// the backing slice never invalidates a previously issued address.
type Heap struct {
	mem    []byte
	arrays map[Addr]arrayHeader
}

// NewHeap returns an empty heap with address 0 burned so that no
// allocation can ever collide with the null pointer.
func NewHeap() *Heap {
	return &Heap{
		mem:    make([]byte, 1, 4096),
		arrays: make(map[Addr]arrayHeader),
	}
}

// Alloc reserves size zero-initialized bytes and returns their starting
// address. A negative size is a memory fault (the caller decides how to
// report it); Alloc itself just refuses to reserve anything.
func (h *Heap) Alloc(size int32) (Addr, bool) {
	if size < 0 {
		return 0, false
	}
	addr := Addr(len(h.mem))
	h.mem = append(h.mem, make([]byte, size)...)
	return addr, true
}

// maxAllocBytes caps a single allocation so a count*eltSize (or i*eltSize)
// product computed in 64 bits can never silently wrap back into range when
// truncated to the int32 Alloc takes — untrusted bytecode can request any
// count, and the real product must either fit or be rejected, never wrap
// (spec §1's memory-safety requirement; mirrors xcalloc's overflow abort in
// original_source/c0vm.c).
const maxAllocBytes = 1 << 31

// NewArray allocates count zero-initialized elements of eltSize bytes each
// and returns the address of the header describing them (the address
// ARRAYLENGTH and AADDS expect, not the address of the first element).
func (h *Heap) NewArray(count, eltSize int32) (Addr, bool) {
	if count < 0 || eltSize < 0 {
		return 0, false
	}
	total := int64(count) * int64(eltSize)
	if total >= maxAllocBytes {
		return 0, false
	}
	elemsAddr, ok := h.Alloc(int32(total))
	if !ok {
		return 0, false
	}
	headerAddr, ok := h.Alloc(1)
	if !ok {
		return 0, false
	}
	h.arrays[headerAddr] = arrayHeader{count: count, eltSize: eltSize, elemsPtr: elemsAddr}
	return headerAddr, true
}

// ArrayLen returns the element count of the array headed at addr.
func (h *Heap) ArrayLen(addr Addr) (int32, bool) {
	hdr, ok := h.arrays[addr]
	if !ok {
		return 0, false
	}
	return hdr.count, true
}

// ArrayElemAddr returns the address of element i of the array headed at
// addr, or false if i is out of [0, count).
func (h *Heap) ArrayElemAddr(addr Addr, i int32) (Addr, bool) {
	hdr, ok := h.arrays[addr]
	if !ok || i < 0 || i >= hdr.count {
		return 0, false
	}
	offset := int64(i) * int64(hdr.eltSize)
	if offset >= maxAllocBytes {
		return 0, false
	}
	return hdr.elemsPtr + Addr(offset), true
}

func (h *Heap) inBounds(addr Addr, n int) bool {
	end := uint64(addr) + uint64(n)
	return addr != 0 && end <= uint64(len(h.mem))
}

// LoadInt32 reads a 32-bit int through addr (IMLOAD).
func (h *Heap) LoadInt32(addr Addr) (int32, bool) {
	if !h.inBounds(addr, wordSize) {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(h.mem[addr:])), true
}

// StoreInt32 writes a 32-bit int through addr (IMSTORE).
func (h *Heap) StoreInt32(addr Addr, v int32) bool {
	if !h.inBounds(addr, wordSize) {
		return false
	}
	binary.LittleEndian.PutUint32(h.mem[addr:], uint32(v))
	return true
}

// LoadPtr reads a heap address through addr (AMLOAD).
func (h *Heap) LoadPtr(addr Addr) (Addr, bool) {
	if !h.inBounds(addr, wordSize) {
		return 0, false
	}
	return Addr(binary.LittleEndian.Uint32(h.mem[addr:])), true
}

// StorePtr writes a heap address through addr (AMSTORE).
func (h *Heap) StorePtr(addr Addr, v Addr) bool {
	if !h.inBounds(addr, wordSize) {
		return false
	}
	binary.LittleEndian.PutUint32(h.mem[addr:], uint32(v))
	return true
}

// LoadByte reads a single byte through addr, sign-extended to int32
// (CMLOAD).
func (h *Heap) LoadByte(addr Addr) (int32, bool) {
	if !h.inBounds(addr, 1) {
		return 0, false
	}
	return int32(int8(h.mem[addr])), true
}

// StoreByte writes the low 7 bits of v through addr (CMSTORE — the source
// language guarantees 7-bit characters).
func (h *Heap) StoreByte(addr Addr, v int32) bool {
	if !h.inBounds(addr, 1) {
		return false
	}
	h.mem[addr] = byte(v) & 0x7f
	return true
}

// AllocBytes copies data into a freshly allocated region and returns its
// base address. The loader uses this once, at startup, to preload the
// program's string pool into the same address space the rest of the heap
// lives in — so ALDC's result is an ordinary Ptr that IMLOAD/CMLOAD/
// LoadString can all dereference like any other address (spec §4.1/§6).
func (h *Heap) AllocBytes(data []byte) Addr {
	addr, _ := h.Alloc(int32(len(data)))
	copy(h.mem[addr:], data)
	return addr
}

// LoadString returns the NUL-terminated byte string starting at addr,
// without the terminator (ATHROW/ASSERT message pointers, ALDC results).
func (h *Heap) LoadString(addr Addr) (string, bool) {
	if addr == 0 || uint64(addr) >= uint64(len(h.mem)) {
		return "", false
	}
	end := addr
	for uint64(end) < uint64(len(h.mem)) && h.mem[end] != 0 {
		end++
	}
	return string(h.mem[addr:end]), true
}
