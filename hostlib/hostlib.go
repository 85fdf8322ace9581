// Package hostlib assembles the host-side native function table
// INVOKENATIVE/INVOKEDYNAMIC dispatch into (spec §4.9/§6). It plays the
// role the teacher's devices.go HardwareDevice table played — a small,
// indexed set of host callables the interpreter treats as an opaque
// external collaborator — adapted from "devices the VM can TrySend to"
// into "functions the VM can call and get a Value back from."
package hostlib

import (
	"bufio"
	"fmt"

	"corevm/vm"
)

// Builder assembles a vm.NativeTable by name, then hands back both the
// table and the pool index each registered name landed at, so a loader can
// wire asm.Builder's Native() calls to the right slot without the two
// packages having to agree on index numbers out of band.
type Builder struct {
	funcs []vm.NativeFunc
	index map[string]uint16
}

// NewBuilder returns an empty host function table builder.
func NewBuilder() *Builder {
	return &Builder{index: make(map[string]uint16)}
}

// Register adds fn under name and returns its table index (the
// FunctionTableIndex a vm.NativeInfo entry should carry).
func (b *Builder) Register(name string, fn vm.NativeFunc) uint16 {
	idx := uint16(len(b.funcs))
	b.funcs = append(b.funcs, fn)
	b.index[name] = idx
	return idx
}

// Index looks up the table index a name was registered under.
func (b *Builder) Index(name string) (uint16, bool) {
	idx, ok := b.index[name]
	return idx, ok
}

// Build finishes the table for handing to vm.NewInterpreter.
func (b *Builder) Build() vm.NativeTable {
	return vm.SliceNativeTable(b.funcs)
}

// Standard registers the small, fixed set of host callables every corevm
// program can assume exist: console output and basic string inspection —
// the stack machine's equivalent of the teacher's always-present
// consoleIO/memoryManagement device pair. w receives print_int/print_string
// output; the interpreter's own stdout writer is the natural choice.
func Standard(w *bufio.Writer) *Builder {
	b := NewBuilder()

	b.Register("print_int", func(h *vm.Heap, args []vm.Value) vm.Value {
		fmt.Fprintln(w, args[0].Int())
		return vm.NullValue()
	})

	b.Register("print_string", func(h *vm.Heap, args []vm.Value) vm.Value {
		s, _ := h.LoadString(args[0].Addr())
		fmt.Fprintln(w, s)
		return vm.NullValue()
	})

	b.Register("string_length", func(h *vm.Heap, args []vm.Value) vm.Value {
		s, _ := h.LoadString(args[0].Addr())
		return vm.IntValue(int32(len(s)))
	})

	b.Register("char_at", func(h *vm.Heap, args []vm.Value) vm.Value {
		s, ok := h.LoadString(args[0].Addr())
		idx := args[1].Int()
		if !ok || idx < 0 || int(idx) >= len(s) {
			return vm.IntValue(0)
		}
		return vm.IntValue(int32(s[idx]))
	})

	return b
}
