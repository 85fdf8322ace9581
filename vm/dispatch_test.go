package vm_test

import (
	"bytes"
	"fmt"
	"testing"

	"corevm/asm"
	"corevm/vm"
)

// assert mirrors the teacher's vm_test.go helper: a single Fatalf wrapper
// so every test reads as "assert this is true" rather than a hand-rolled
// if/Fatalf pair.
func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

// S1 (arithmetic and return): BIPUSH 3, BIPUSH 4, IADD, RETURN -> 7.
func TestS1ArithmeticAndReturn(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.PushInt(3).PushInt(4).Iadd().Return()
	fn.End()

	result, ferr := run(t, b.Build())
	assert(t, ferr == nil, "unexpected fault: %v", ferr)
	assert(t, result == 7, "result = %d, want 7", result)
}

// S2 (signed branch): push -1, push 1; -1 < 1 is true, so the branch is
// taken and the function returns 1.
func TestS2SignedBranch(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.PushInt(-1).PushInt(1).IfICmpLt("taken").
		PushInt(0).Return().
		Label("taken").PushInt(1).Return()
	fn.End()

	result, ferr := run(t, b.Build())
	assert(t, ferr == nil, "unexpected fault: %v", ferr)
	assert(t, result == 1, "result = %d, want 1", result)
}

// S3 (division fault): BIPUSH 1, BIPUSH 0, IDIV, RETURN -> arithmetic fault.
func TestS3DivisionFault(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.PushInt(1).PushInt(0).Idiv().Return()
	fn.End()

	_, ferr := run(t, b.Build())
	assert(t, ferr != nil, "expected an arithmetic fault")
	assert(t, ferr.Kind == vm.ErrArithmetic, "fault kind = %v, want ErrArithmetic", ferr.Kind)
}

// S4 (array bounds): allocate a 3-element array, then index it at 3.
func TestS4ArrayBounds(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.PushInt(3).NewArray(4).Dup().PushInt(3).Aadds()
	fn.End()

	_, ferr := run(t, b.Build())
	assert(t, ferr != nil, "expected a memory fault")
	assert(t, ferr.Kind == vm.ErrMemory, "fault kind = %v, want ErrMemory", ferr.Kind)
}

// S5 (tagged variant round-trip): a fresh allocation tagged and checked with
// the same tag loads as 0 and returns normally; a mismatched tag faults.
func TestS5TaggedVariantRoundTrip(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.New(4).AddTag(0x0007).CheckTag(0x0007).Imload().Return()
	fn.End()

	result, ferr := run(t, b.Build())
	assert(t, ferr == nil, "unexpected fault: %v", ferr)
	assert(t, result == 0, "result = %d, want 0", result)
}

func TestS5TaggedVariantMismatchFaults(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.New(4).AddTag(0x0007).CheckTag(0x0008).Imload().Return()
	fn.End()

	_, ferr := run(t, b.Build())
	assert(t, ferr != nil, "expected a memory fault on tag mismatch")
	assert(t, ferr.Kind == vm.ErrMemory, "fault kind = %v, want ErrMemory", ferr.Kind)
}

// S6 (call/return): function 0 calls function 1 with (10, 32); function 1
// adds its two locals and returns. Outermost exit code is 42.
func TestS6CallAndReturn(t *testing.T) {
	b := asm.New()
	// The first Function call made becomes the entry point (pool index 0),
	// so the caller must be declared before the callee even though its
	// body references the callee's index.
	caller := b.Function(0, 0)
	callee := b.Function(2, 2)

	callee.Vload(0).Vload(1).Iadd().Return()
	callee.End()

	caller.PushInt(10).PushInt(32).InvokeStatic(callee.Index()).Return()
	caller.End()

	result, ferr := run(t, b.Build())
	assert(t, ferr == nil, "unexpected fault: %v", ferr)
	assert(t, result == 42, "result = %d, want 42", result)
}

func TestShiftByNegativeOrOutOfRangeFaults(t *testing.T) {
	for _, shiftAmt := range []int32{-1, 32, 33} {
		b := asm.New()
		fn := b.Function(0, 0)
		fn.PushInt(1).PushInt(shiftAmt).Ishl().Return()
		fn.End()

		_, ferr := run(t, b.Build())
		assert(t, ferr != nil && ferr.Kind == vm.ErrArithmetic,
			"shift by %d: got %v, want an arithmetic fault", shiftAmt, ferr)
	}
}

func TestIntMinDivByNegativeOneFaults(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.Ildc(b.Int(-2147483648)).PushInt(-1).Idiv().Return()
	fn.End()

	_, ferr := run(t, b.Build())
	assert(t, ferr != nil && ferr.Kind == vm.ErrArithmetic, "got %v, want an arithmetic fault", ferr)
}

// Operand evaluation order (invariant 5): pushing x then y, a binary op
// receives v2=x, v1=y and computes x ⊙ y. ISUB makes the asymmetry
// observable: 10 then 3 must yield 7, not -7.
func TestOperandPopOrder(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.PushInt(10).PushInt(3).Isub().Return()
	fn.End()

	result, ferr := run(t, b.Build())
	assert(t, ferr == nil, "unexpected fault: %v", ferr)
	assert(t, result == 7, "result = %d, want 7 (10 - 3)", result)
}

func TestNullPointerDereferenceFaults(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.AconstNull().Imload().Return()
	fn.End()

	_, ferr := run(t, b.Build())
	assert(t, ferr != nil && ferr.Kind == vm.ErrMemory, "got %v, want a memory fault", ferr)
}

func TestAthrowCarriesMessage(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.Aldc(b.String("boom")).Athrow()
	fn.End()

	_, ferr := run(t, b.Build())
	assert(t, ferr != nil && ferr.Kind == vm.ErrUser, "got %v, want a user error", ferr)
	assert(t, ferr.Message == "boom", "message = %q, want %q", ferr.Message, "boom")
}

func TestAssertFailureCarriesMessage(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.PushInt(0).Aldc(b.String("nope")).Assert().Return()
	fn.End()

	_, ferr := run(t, b.Build())
	assert(t, ferr != nil && ferr.Kind == vm.ErrAssertion, "got %v, want an assertion failure", ferr)
	assert(t, ferr.Message == "nope", "message = %q, want %q", ferr.Message, "nope")
}

func TestAssertPassesThroughOnNonzero(t *testing.T) {
	b := asm.New()
	fn := b.Function(0, 0)
	fn.PushInt(1).Aldc(b.String("unused")).Assert().PushInt(5).Return()
	fn.End()

	result, ferr := run(t, b.Build())
	assert(t, ferr == nil, "unexpected fault: %v", ferr)
	assert(t, result == 5, "result = %d, want 5", result)
}

func TestInvokeNativeMarshalsArgsAndResult(t *testing.T) {
	b := asm.New()
	nativeIdx := b.Native(2, 0)
	fn := b.Function(0, 0)
	fn.PushInt(10).PushInt(32).InvokeNative(nativeIdx).Return()
	fn.End()

	natives := vm.SliceNativeTable{
		func(h *vm.Heap, args []vm.Value) vm.Value {
			return vm.IntValue(args[0].Int()*100 + args[1].Int())
		},
	}

	machine, err := vm.NewInterpreter(b.Build(), natives, &bytes.Buffer{})
	assert(t, err == nil, "NewInterpreter: %v", err)
	result, ferr := machine.Run()
	assert(t, ferr == nil, "unexpected fault: %v", ferr)
	assert(t, result == 1032, "result = %d, want 1032 (native received args in ascending order)", result)
}

func TestAddrofAndInvokeDynamicStatic(t *testing.T) {
	b := asm.New()
	caller := b.Function(0, 0)
	callee := b.Function(1, 1)
	callee.Vload(0).PushInt(1).Iadd().Return()
	callee.End()

	caller.PushInt(41).AddrofStatic(callee.Index()).InvokeDynamic().Return()
	caller.End()

	result, ferr := run(t, b.Build())
	assert(t, ferr == nil, "unexpected fault: %v", ferr)
	assert(t, result == 42, "result = %d, want 42", result)
}

func run(t *testing.T, prog *vm.Program) (int32, *vm.RuntimeError) {
	t.Helper()
	machine, err := vm.NewInterpreter(prog, nil, &bytes.Buffer{})
	assert(t, err == nil, "NewInterpreter: %v", err)
	return machine.Run()
}
