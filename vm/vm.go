package vm

import (
	"bufio"
	"io"
)

// VM is the single mutable interpreter state spec §2 describes: the
// current frame's operand stack, code array, program counter and locals,
// plus the call stack and heap shared across the whole run. Following the
// teacher's vm.go layout, construction and the fetch-decode-dispatch loop
// live in separate files (vm.go for the former, dispatch.go for the
// latter) even though they operate on the same struct.
type VM struct {
	program *Program
	natives NativeTable
	heap    *Heap
	calls   *callStack

	stack  *OperandStack
	code   []byte
	pc     int
	locals *Locals

	// stringPoolBase is the heap address the program's string pool was
	// preloaded at (see Heap.AllocBytes); ALDC's u16 index is an offset
	// from this base, not a raw heap address.
	stringPoolBase Addr

	stdout *bufio.Writer

	// Trace, when set, writes one line per decoded opcode before it runs
	// (the CLI's --trace flag; teacher's debug mode printed similarly).
	Trace bool
}

// NewInterpreter builds a VM ready to execute program's entry function
// (function 0), per spec §6. natives may be nil if the program is known
// never to reach INVOKENATIVE/INVOKEDYNAMIC-to-native.
func NewInterpreter(program *Program, natives NativeTable, stdout io.Writer) (*VM, error) {
	entry, ok := program.EntryFunction()
	if !ok {
		return nil, decodeFault(0, "program has no entry function")
	}

	heap := NewHeap()
	stringBase := heap.AllocBytes(program.Strings)

	return &VM{
		program:        program,
		natives:        natives,
		heap:           heap,
		calls:          newCallStack(),
		stack:          newOperandStack(),
		code:           entry.Code,
		pc:             0,
		locals:         newLocals(entry.NumVars),
		stringPoolBase: stringBase,
		stdout:         bufio.NewWriter(stdout),
	}, nil
}

// Run drives the dispatch loop to completion (spec §4.11): it returns the
// outermost RETURN's integer result on normal termination, or the
// RuntimeError that aborted execution.
func (vm *VM) Run() (int32, *RuntimeError) {
	defer vm.stdout.Flush()

	for {
		result, done, err := vm.step()
		if err != nil {
			return 0, err
		}
		if done {
			return result, nil
		}
	}
}

// Step executes exactly one opcode and reports whether the outermost
// RETURN fired (done, with result valid) or a fault aborted execution.
// It is exported for the interactive debugger (cmd/corevm's `debug`
// subcommand), which single-steps the same loop Run drives to completion.
func (vm *VM) Step() (result int32, done bool, err *RuntimeError) {
	return vm.step()
}

// PC returns the current frame's program counter, for debugger/disasm use.
func (vm *VM) PC() int { return vm.pc }

// Code returns the current frame's code array, for debugger/disasm use.
func (vm *VM) Code() []byte { return vm.code }

// CallDepth returns the number of saved (non-current) frames.
func (vm *VM) CallDepth() int { return vm.calls.depth() }

// StackSize returns the current frame's operand-stack size.
func (vm *VM) StackSize() int { return vm.stack.Size() }
