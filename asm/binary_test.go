package asm_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"corevm/asm"
	"corevm/vm"
)

// assert mirrors the teacher's vm_test.go helper, adopted here since this
// package's tests reach the same "fail with a formatted reason" shape.
func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := asm.New()
	fn := b.Function(1, 2)
	fn.Vload(0).PushInt(1).Iadd().Vstore(1).Vload(1).Return()
	fn.End()
	b.Native(1, 0)
	b.String("hello")

	want := b.Build()

	var buf bytes.Buffer
	err := asm.Save(&buf, want)
	assert(t, err == nil, "Save: %v", err)

	got, err := asm.Load(&buf)
	assert(t, err == nil, "Load: %v", err)

	diff := cmp.Diff(want, got, cmpopts.EquateEmpty())
	assert(t, diff == "", "round trip mismatch (-want +got):\n%s", diff)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := asm.Load(bytes.NewReader([]byte("nope")))
	assert(t, err != nil, "expected an error for a bad magic header")
}

func TestProgramRunsAfterRoundTrip(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.PushInt(3).PushInt(4).Iadd().Return()
	fn.End()

	var buf bytes.Buffer
	err := asm.Save(&buf, b.Build())
	assert(t, err == nil, "Save: %v", err)
	prog, err := asm.Load(&buf)
	assert(t, err == nil, "Load: %v", err)

	machine, err := vm.NewInterpreter(prog, nil, &bytes.Buffer{})
	assert(t, err == nil, "NewInterpreter: %v", err)
	result, ferr := machine.Run()
	assert(t, ferr == nil, "unexpected fault: %v", ferr)
	assert(t, result == 7, "result = %d, want 7", result)
}
