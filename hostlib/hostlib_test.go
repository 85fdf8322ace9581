package hostlib_test

import (
	"bufio"
	"bytes"
	"fmt"
	"testing"

	"corevm/hostlib"
	"corevm/vm"
)

// assert mirrors the teacher's vm_test.go helper.
func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestStandardPrintInt(t *testing.T) {
	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	b := hostlib.Standard(w)
	table := b.Build()

	table.Call(nil, mustIndex(t, b, "print_int"), []vm.Value{vm.IntValue(42)})
	w.Flush()

	assert(t, out.String() == "42\n", "output = %q, want %q", out.String(), "42\n")
}

func TestStandardStringLengthAndCharAt(t *testing.T) {
	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	b := hostlib.Standard(w)
	table := b.Build()

	h := vm.NewHeap()
	addr := h.AllocBytes([]byte("hi\x00"))

	lenResult := table.Call(h, mustIndex(t, b, "string_length"), []vm.Value{vm.PtrValue(addr)})
	assert(t, lenResult.Int() == 2, "string_length = %d, want 2", lenResult.Int())

	charResult := table.Call(h, mustIndex(t, b, "char_at"), []vm.Value{vm.PtrValue(addr), vm.IntValue(1)})
	assert(t, charResult.Int() == 'i', "char_at(1) = %d, want %d", charResult.Int(), 'i')
}

func mustIndex(t *testing.T, b *hostlib.Builder, name string) uint16 {
	t.Helper()
	idx, ok := b.Index(name)
	assert(t, ok, "no native registered under %q", name)
	return idx
}
