package vm

import (
	"bytes"
	"fmt"
)

// Disassemble renders every function in p as a flat opcode listing, one
// instruction per line, prefixed by its byte offset — the format the
// `corevm disasm` subcommand and the interactive debugger's source view
// both share (teacher's compile.go/parse.go round-tripped assembly text
// the same way, byte offset and all).
func Disassemble(p *Program) string {
	var buf bytes.Buffer
	for i, fn := range p.Functions {
		fmt.Fprintf(&buf, "function %d (args=%d vars=%d):\n", i, fn.NumArgs, fn.NumVars)
		disassembleCode(&buf, fn.Code)
	}
	for i, n := range p.Natives {
		fmt.Fprintf(&buf, "native %d (args=%d -> table[%d])\n", i, n.NumArgs, n.FunctionTableIndex)
	}
	return buf.String()
}

func disassembleCode(buf *bytes.Buffer, code []byte) {
	pc := 0
	for pc < len(code) {
		buf.WriteString("  ")
		buf.WriteString(DisassembleOne(code, pc))
		buf.WriteByte('\n')
		op := Opcode(code[pc])
		pc += 1 + op.ImmediateBytes()
	}
}

// DisassembleOne renders the single instruction at code[pc] as one line of
// text, with no trailing newline. The interactive debugger uses this to
// show the instruction about to run without having to walk the whole
// function body.
func DisassembleOne(code []byte, pc int) string {
	if pc < 0 || pc >= len(code) {
		return fmt.Sprintf("%5d: <out of range>", pc)
	}
	op := Opcode(code[pc])
	immLen := op.ImmediateBytes()
	if pc+1+immLen > len(code) {
		return fmt.Sprintf("%5d: %-16s <truncated>", pc, op)
	}
	switch immLen {
	case 0:
		return fmt.Sprintf("%5d: %s", pc, op)
	case 1:
		return fmt.Sprintf("%5d: %-16s %d", pc, op, decodeI8(code, pc+1))
	default:
		switch op {
		case OpIfCmpEq, OpIfCmpNe, OpIfICmpLt, OpIfICmpGe, OpIfICmpGt, OpIfICmpLe, OpGoto:
			off := decodeI16(code, pc+1)
			return fmt.Sprintf("%5d: %-16s %+d (-> %d)", pc, op, off, pc+int(off))
		default:
			return fmt.Sprintf("%5d: %-16s %d", pc, op, decodeU16(code, pc+1))
		}
	}
}
