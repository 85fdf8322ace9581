package vm

import (
	"fmt"
	"math"
)

// step decodes and executes exactly one instruction (spec §4, grounded in
// original_source/c0vm.c's execute() switch and shaped like the teacher's
// execInstructions dispatch loop). It returns done=true with result valid
// once the outermost frame's RETURN fires, or a non-nil RuntimeError on any
// fault. Every case advances vm.pc to the default "next instruction" offset
// before running, so control-flow opcodes are the only ones that need to
// touch vm.pc themselves.
func (vm *VM) step() (result int32, done bool, ferr *RuntimeError) {
	if vm.pc < 0 || vm.pc >= len(vm.code) {
		return 0, false, decodeFault(vm.pc, "program counter out of range")
	}

	opStart := vm.pc
	op := Opcode(vm.code[opStart])
	immLen := op.ImmediateBytes()
	if opStart+1+immLen > len(vm.code) {
		return 0, false, decodeFault(opStart, "truncated instruction")
	}
	nextPC := opStart + 1 + immLen
	vm.pc = nextPC

	if vm.Trace {
		fmt.Fprintf(vm.stdout, "pc=%-6d %s\n", opStart, op)
	}

	switch op {
	case OpNop:
		// no-op

	case OpBipush:
		vm.stack.Push(IntValue(decodeI8(vm.code, opStart+1)))

	case OpIldc:
		idx := decodeU16(vm.code, opStart+1)
		if int(idx) >= len(vm.program.Ints) {
			return 0, false, decodeFault(opStart, "int pool index out of range")
		}
		vm.stack.Push(IntValue(vm.program.Ints[idx]))

	case OpAldc:
		idx := decodeU16(vm.code, opStart+1)
		if int(idx) >= len(vm.program.Strings) {
			return 0, false, decodeFault(opStart, "string pool index out of range")
		}
		vm.stack.Push(PtrValue(vm.stringPoolBase + Addr(idx)))

	case OpAconstNull:
		vm.stack.Push(NullValue())

	case OpVload:
		idx := decodeU8(vm.code, opStart+1)
		v, ok := vm.locals.Load(idx)
		if !ok {
			return 0, false, decodeFault(opStart, "local index out of range")
		}
		vm.stack.Push(v)

	case OpVstore:
		idx := decodeU8(vm.code, opStart+1)
		v, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if !vm.locals.Store(idx, v) {
			return 0, false, decodeFault(opStart, "local index out of range")
		}

	case OpIadd, OpIsub, OpImul, OpIand, OpIor, OpIxor:
		v1, ok1 := vm.stack.Pop()
		v2, ok2 := vm.stack.Pop()
		if !ok1 || !ok2 {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		var res int32
		switch op {
		case OpIadd:
			res = v2.Int() + v1.Int()
		case OpIsub:
			res = v2.Int() - v1.Int()
		case OpImul:
			res = v2.Int() * v1.Int()
		case OpIand:
			res = v2.Int() & v1.Int()
		case OpIor:
			res = v2.Int() | v1.Int()
		case OpIxor:
			res = v2.Int() ^ v1.Int()
		}
		vm.stack.Push(IntValue(res))

	case OpIdiv, OpIrem:
		v1, ok1 := vm.stack.Pop()
		v2, ok2 := vm.stack.Pop()
		if !ok1 || !ok2 {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		divisor, dividend := v1.Int(), v2.Int()
		if divisor == 0 {
			return 0, false, arithFault(opStart, "division by zero")
		}
		if dividend == math.MinInt32 && divisor == -1 {
			return 0, false, arithFault(opStart, "INT_MIN divided by -1")
		}
		if op == OpIdiv {
			vm.stack.Push(IntValue(dividend / divisor))
		} else {
			vm.stack.Push(IntValue(dividend % divisor))
		}

	case OpIshl, OpIshr:
		v1, ok1 := vm.stack.Pop()
		v2, ok2 := vm.stack.Pop()
		if !ok1 || !ok2 {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		amt := v1.Int()
		if amt < 0 || amt >= 32 {
			return 0, false, arithFault(opStart, "shift amount out of range")
		}
		if op == OpIshl {
			vm.stack.Push(IntValue(v2.Int() << uint(amt)))
		} else {
			vm.stack.Push(IntValue(v2.Int() >> uint(amt)))
		}

	case OpIfCmpEq, OpIfCmpNe:
		v1, ok1 := vm.stack.Pop()
		v2, ok2 := vm.stack.Pop()
		if !ok1 || !ok2 {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		eq := v1.Equal(v2)
		if eq == (op == OpIfCmpEq) {
			vm.pc = opStart + int(decodeI16(vm.code, opStart+1))
		}

	case OpIfICmpLt, OpIfICmpGe, OpIfICmpGt, OpIfICmpLe:
		v1, ok1 := vm.stack.Pop()
		v2, ok2 := vm.stack.Pop()
		if !ok1 || !ok2 {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		a, b := v1.Int(), v2.Int()
		var branch bool
		switch op {
		case OpIfICmpLt:
			branch = b < a
		case OpIfICmpGe:
			branch = b >= a
		case OpIfICmpGt:
			branch = b > a
		case OpIfICmpLe:
			branch = b <= a
		}
		if branch {
			vm.pc = opStart + int(decodeI16(vm.code, opStart+1))
		}

	case OpGoto:
		vm.pc = opStart + int(decodeI16(vm.code, opStart+1))

	case OpPop:
		if _, ok := vm.stack.Pop(); !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}

	case OpDup:
		v, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		vm.stack.Push(v)
		vm.stack.Push(v)

	case OpSwap:
		top, ok1 := vm.stack.Pop()
		second, ok2 := vm.stack.Pop()
		if !ok1 || !ok2 {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		vm.stack.Push(top)
		vm.stack.Push(second)

	case OpReturn:
		retval, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if !vm.stack.Empty() {
			return 0, false, decodeFault(opStart, "operand stack not empty at return")
		}
		caller, ok := vm.calls.pop()
		if !ok {
			return retval.Int(), true, nil
		}
		vm.stack = caller.stack
		vm.code = caller.code
		vm.pc = caller.pc
		vm.locals = caller.locals
		vm.stack.Push(retval)

	case OpNew:
		size := decodeI8(vm.code, opStart+1)
		addr, ok := vm.heap.Alloc(size)
		if !ok {
			return 0, false, memFault(opStart, "negative allocation size")
		}
		vm.stack.Push(PtrValue(addr))

	case OpImload:
		p, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if p.IsNull() {
			return 0, false, memFault(opStart, "null pointer dereference")
		}
		v, ok2 := vm.heap.LoadInt32(p.Addr())
		if !ok2 {
			return 0, false, memFault(opStart, "out-of-bounds memory access")
		}
		vm.stack.Push(IntValue(v))

	case OpImstore:
		x, ok1 := vm.stack.Pop()
		p, ok2 := vm.stack.Pop()
		if !ok1 || !ok2 {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if p.IsNull() {
			return 0, false, memFault(opStart, "null pointer dereference")
		}
		if !vm.heap.StoreInt32(p.Addr(), x.Int()) {
			return 0, false, memFault(opStart, "out-of-bounds memory access")
		}

	case OpAmload:
		p, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if p.IsNull() {
			return 0, false, memFault(opStart, "null pointer dereference")
		}
		addr, ok2 := vm.heap.LoadPtr(p.Addr())
		if !ok2 {
			return 0, false, memFault(opStart, "out-of-bounds memory access")
		}
		vm.stack.Push(PtrValue(addr))

	case OpAmstore:
		b, ok1 := vm.stack.Pop()
		a, ok2 := vm.stack.Pop()
		if !ok1 || !ok2 {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if a.IsNull() {
			return 0, false, memFault(opStart, "null pointer dereference")
		}
		if !vm.heap.StorePtr(a.Addr(), b.Addr()) {
			return 0, false, memFault(opStart, "out-of-bounds memory access")
		}

	case OpCmload:
		p, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if p.IsNull() {
			return 0, false, memFault(opStart, "null pointer dereference")
		}
		b, ok2 := vm.heap.LoadByte(p.Addr())
		if !ok2 {
			return 0, false, memFault(opStart, "out-of-bounds memory access")
		}
		vm.stack.Push(IntValue(b))

	case OpCmstore:
		x, ok1 := vm.stack.Pop()
		p, ok2 := vm.stack.Pop()
		if !ok1 || !ok2 {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if p.IsNull() {
			return 0, false, memFault(opStart, "null pointer dereference")
		}
		if !vm.heap.StoreByte(p.Addr(), x.Int()) {
			return 0, false, memFault(opStart, "out-of-bounds memory access")
		}

	case OpAaddf:
		off := decodeU8(vm.code, opStart+1)
		p, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if p.IsNull() {
			return 0, false, memFault(opStart, "null pointer dereference")
		}
		vm.stack.Push(PtrValue(p.Addr() + Addr(off)))

	case OpNewArray:
		eltSize := decodeI8(vm.code, opStart+1)
		n, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if n.Int() < 0 {
			return 0, false, memFault(opStart, "negative array length")
		}
		addr, ok2 := vm.heap.NewArray(n.Int(), eltSize)
		if !ok2 {
			return 0, false, memFault(opStart, "invalid array allocation")
		}
		vm.stack.Push(PtrValue(addr))

	case OpArrayLength:
		p, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if p.IsNull() {
			return 0, false, memFault(opStart, "null pointer dereference")
		}
		n, ok2 := vm.heap.ArrayLen(p.Addr())
		if !ok2 {
			return 0, false, memFault(opStart, "not an array")
		}
		vm.stack.Push(IntValue(n))

	case OpAadds:
		idx, ok1 := vm.stack.Pop()
		arr, ok2 := vm.stack.Pop()
		if !ok1 || !ok2 {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if arr.IsNull() {
			return 0, false, memFault(opStart, "null pointer dereference")
		}
		addr, ok3 := vm.heap.ArrayElemAddr(arr.Addr(), idx.Int())
		if !ok3 {
			return 0, false, memFault(opStart, "array index out of bounds")
		}
		vm.stack.Push(PtrValue(addr))

	case OpAddTag:
		tag := decodeU16(vm.code, opStart+1)
		p, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		vm.stack.Push(TaggedPtrValue(p.Addr(), tag))

	case OpCheckTag:
		tag := decodeU16(vm.code, opStart+1)
		tp, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if !tp.IsTaggedPtr() {
			return 0, false, decodeFault(opStart, "checktag on a value with no tag")
		}
		addr, t := tp.TaggedAddr()
		if addr == 0 || t != tag {
			return 0, false, memFault(opStart, "tag mismatch")
		}
		vm.stack.Push(PtrValue(addr))

	case OpHasTag:
		tag := decodeU16(vm.code, opStart+1)
		tp, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if !tp.IsTaggedPtr() {
			return 0, false, decodeFault(opStart, "hastag on a value with no tag")
		}
		addr, t := tp.TaggedAddr()
		if addr != 0 && t == tag {
			vm.stack.Push(IntValue(1))
		} else {
			vm.stack.Push(IntValue(0))
		}

	case OpAddrofStatic:
		idx := decodeU16(vm.code, opStart+1)
		vm.stack.Push(FnPtrValue(FnStatic, idx))

	case OpAddrofNative:
		idx := decodeU16(vm.code, opStart+1)
		vm.stack.Push(FnPtrValue(FnNative, idx))

	case OpInvokeStatic:
		idx := decodeU16(vm.code, opStart+1)
		if ferr := vm.invokeStatic(idx, nextPC); ferr != nil {
			ferr.PC = opStart
			return 0, false, ferr
		}

	case OpInvokeNative:
		idx := decodeU16(vm.code, opStart+1)
		if ferr := vm.invokeNative(idx); ferr != nil {
			ferr.PC = opStart
			return 0, false, ferr
		}

	case OpInvokeDynamic:
		f, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if !f.IsFnPtr() {
			return 0, false, decodeFault(opStart, "invokedynamic on a non-function value")
		}
		kind, idx := f.Fn()
		if kind == FnNative {
			if ferr := vm.invokeNative(idx); ferr != nil {
				ferr.PC = opStart
				return 0, false, ferr
			}
		} else {
			if ferr := vm.invokeStatic(idx, nextPC); ferr != nil {
				ferr.PC = opStart
				return 0, false, ferr
			}
		}

	case OpAthrow:
		p, ok := vm.stack.Pop()
		if !ok {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if p.IsNull() {
			return 0, false, memFault(opStart, "null message pointer")
		}
		msg, ok2 := vm.heap.LoadString(p.Addr())
		if !ok2 {
			return 0, false, memFault(opStart, "invalid message pointer")
		}
		return 0, false, &RuntimeError{Kind: ErrUser, PC: opStart, Message: msg}

	case OpAssert:
		msg, ok1 := vm.stack.Pop()
		cond, ok2 := vm.stack.Pop()
		if !ok1 || !ok2 {
			return 0, false, decodeFault(opStart, "operand stack underflow")
		}
		if cond.Int() == 0 {
			if msg.IsNull() {
				return 0, false, memFault(opStart, "null message pointer")
			}
			text, ok3 := vm.heap.LoadString(msg.Addr())
			if !ok3 {
				return 0, false, memFault(opStart, "invalid message pointer")
			}
			return 0, false, &RuntimeError{Kind: ErrAssertion, PC: opStart, Message: text}
		}

	default:
		return 0, false, decodeFault(opStart, fmt.Sprintf("unknown opcode 0x%02x", byte(op)))
	}

	return 0, false, nil
}

// invokeStatic implements the shared INVOKESTATIC/INVOKEDYNAMIC-to-static
// call sequence (spec §4.5/§9): save the caller's frame, pop fn's declared
// arguments off the caller's stack into a fresh Locals vector, and transfer
// control. resumePC is where the caller resumes once this call RETURNs.
func (vm *VM) invokeStatic(fnIndex uint16, resumePC int) *RuntimeError {
	if int(fnIndex) >= len(vm.program.Functions) {
		return decodeFault(vm.pc, "function index out of range")
	}
	fn := vm.program.Functions[fnIndex]
	args, ok := popArgsDescending(vm.stack, fn.NumArgs)
	if !ok {
		return decodeFault(vm.pc, "operand stack underflow")
	}

	vm.calls.push(frame{stack: vm.stack, code: vm.code, pc: resumePC, locals: vm.locals})

	callee := newLocals(fn.NumVars)
	copy(callee.slots[:fn.NumArgs], args)

	vm.stack = newOperandStack()
	vm.code = fn.Code
	vm.pc = 0
	vm.locals = callee
	return nil
}

// invokeNative implements the shared INVOKENATIVE/INVOKEDYNAMIC-to-native
// call sequence: marshal the declared arguments off the caller's stack and
// hand them to the host bridge, pushing its single result (spec §4.9/§9).
func (vm *VM) invokeNative(nativeIndex uint16) *RuntimeError {
	if int(nativeIndex) >= len(vm.program.Natives) {
		return decodeFault(vm.pc, "native index out of range")
	}
	info := vm.program.Natives[nativeIndex]
	args, ok := popArgsDescending(vm.stack, info.NumArgs)
	if !ok {
		return decodeFault(vm.pc, "operand stack underflow")
	}
	if vm.natives == nil {
		return decodeFault(vm.pc, "no native table configured")
	}
	vm.stack.Push(vm.natives.Call(vm.heap, info.FunctionTableIndex, args))
	return nil
}
