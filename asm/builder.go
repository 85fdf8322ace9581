// Package asm is a small in-process assembler for building vm.Program
// values function by function, opcode by opcode, with named labels instead
// of hand-computed branch offsets. It plays the role the teacher's
// parse.go/compile.go pair played for its register-machine text format —
// a builder tests and the CLI's `disasm`/`run` path can both use — adapted
// to this interpreter's stack-machine opcode set and pool layout.
package asm

import "corevm/vm"

// Builder accumulates the function pool, native pool, and constant pools of
// a program under construction. The zero value is not usable; use New.
type Builder struct {
	functions []vm.FunctionInfo
	natives   []vm.NativeInfo
	ints      []int32
	strings   []byte
	strOffset map[string]uint16
}

// New returns an empty Builder. The first Function call made against it
// becomes the program's entry point (function pool index 0), matching
// vm.Program.EntryFunction.
func New() *Builder {
	return &Builder{strOffset: make(map[string]uint16)}
}

// Int interns v into the integer constant pool and returns its pool index,
// reusing an existing slot if v was already interned — ILDC's operand.
func (b *Builder) Int(v int32) uint16 {
	for i, existing := range b.ints {
		if existing == v {
			return uint16(i)
		}
	}
	b.ints = append(b.ints, v)
	return uint16(len(b.ints) - 1)
}

// String interns s as a NUL-terminated entry in the string pool and returns
// its byte offset — ALDC's operand.
func (b *Builder) String(s string) uint16 {
	if off, ok := b.strOffset[s]; ok {
		return off
	}
	off := uint16(len(b.strings))
	b.strings = append(b.strings, s...)
	b.strings = append(b.strings, 0)
	b.strOffset[s] = off
	return off
}

// Native registers a native-pool entry expecting numArgs arguments and
// dispatching to slot tableIndex of the host's NativeTable, returning its
// native-pool index — INVOKENATIVE/ADDROF_NATIVE's operand.
func (b *Builder) Native(numArgs, tableIndex uint16) uint16 {
	b.natives = append(b.natives, vm.NativeInfo{NumArgs: numArgs, FunctionTableIndex: tableIndex})
	return uint16(len(b.natives) - 1)
}

// Function starts a new function-pool entry declaring numArgs arguments
// and numVars total locals (arguments occupy locals [0, numArgs)), and
// returns a FuncBuilder for emitting its body. The function's own pool
// index is reserved immediately, so recursive and forward calls can
// reference it before Build is called.
func (b *Builder) Function(numArgs, numVars uint16) *FuncBuilder {
	idx := uint16(len(b.functions))
	b.functions = append(b.functions, vm.FunctionInfo{NumArgs: numArgs, NumVars: numVars})
	return &FuncBuilder{parent: b, index: idx, numArgs: numArgs, numVars: numVars, labels: make(map[string]int)}
}

// Build returns the assembled Program. It does not resolve branch fixups:
// a function's code is present only once its FuncBuilder's End has run.
func (b *Builder) Build() *vm.Program {
	return &vm.Program{
		Functions: b.functions,
		Natives:   b.natives,
		Ints:      b.ints,
		Strings:   b.strings,
	}
}
