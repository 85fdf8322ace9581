package asm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"corevm/vm"
)

// magic identifies a corevm bytecode container. Real bytecode producers
// (spec §6 treats the loader as an external collaborator) would emit this
// same framing; the CLI's run/disasm/debug subcommands all read it.
var magic = [4]byte{'C', 'V', 'M', '1'}

// Save writes p to w in corevm's binary container format: a magic header
// followed by the function pool, native pool, integer pool and string
// pool, each length-prefixed. All integers are big-endian, matching the
// bytecode immediate encoding the interpreter itself reads (spec §4.1).
func Save(w io.Writer, p *vm.Program) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return err
	}

	if err := binary.Write(bw, binary.BigEndian, uint32(len(p.Functions))); err != nil {
		return err
	}
	for _, fn := range p.Functions {
		if err := binary.Write(bw, binary.BigEndian, fn.NumArgs); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.BigEndian, fn.NumVars); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.BigEndian, uint32(len(fn.Code))); err != nil {
			return err
		}
		if _, err := bw.Write(fn.Code); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, binary.BigEndian, uint32(len(p.Natives))); err != nil {
		return err
	}
	for _, n := range p.Natives {
		if err := binary.Write(bw, binary.BigEndian, n.NumArgs); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.BigEndian, n.FunctionTableIndex); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, binary.BigEndian, uint32(len(p.Ints))); err != nil {
		return err
	}
	for _, v := range p.Ints {
		if err := binary.Write(bw, binary.BigEndian, v); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, binary.BigEndian, uint32(len(p.Strings))); err != nil {
		return err
	}
	if _, err := bw.Write(p.Strings); err != nil {
		return err
	}

	return bw.Flush()
}

// Load reads a Program back out of corevm's binary container format.
func Load(r io.Reader) (*vm.Program, error) {
	br := bufio.NewReader(r)

	var got [4]byte
	if _, err := io.ReadFull(br, got[:]); err != nil {
		return nil, fmt.Errorf("asm: reading magic: %w", err)
	}
	if got != magic {
		return nil, fmt.Errorf("asm: not a corevm bytecode file (bad magic %q)", got[:])
	}

	p := &vm.Program{}

	var numFns uint32
	if err := binary.Read(br, binary.BigEndian, &numFns); err != nil {
		return nil, err
	}
	p.Functions = make([]vm.FunctionInfo, numFns)
	for i := range p.Functions {
		var fn vm.FunctionInfo
		if err := binary.Read(br, binary.BigEndian, &fn.NumArgs); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.BigEndian, &fn.NumVars); err != nil {
			return nil, err
		}
		var codeLen uint32
		if err := binary.Read(br, binary.BigEndian, &codeLen); err != nil {
			return nil, err
		}
		fn.Code = make([]byte, codeLen)
		if _, err := io.ReadFull(br, fn.Code); err != nil {
			return nil, err
		}
		p.Functions[i] = fn
	}

	var numNatives uint32
	if err := binary.Read(br, binary.BigEndian, &numNatives); err != nil {
		return nil, err
	}
	p.Natives = make([]vm.NativeInfo, numNatives)
	for i := range p.Natives {
		if err := binary.Read(br, binary.BigEndian, &p.Natives[i].NumArgs); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.BigEndian, &p.Natives[i].FunctionTableIndex); err != nil {
			return nil, err
		}
	}

	var numInts uint32
	if err := binary.Read(br, binary.BigEndian, &numInts); err != nil {
		return nil, err
	}
	p.Ints = make([]int32, numInts)
	for i := range p.Ints {
		if err := binary.Read(br, binary.BigEndian, &p.Ints[i]); err != nil {
			return nil, err
		}
	}

	var stringsLen uint32
	if err := binary.Read(br, binary.BigEndian, &stringsLen); err != nil {
		return nil, err
	}
	p.Strings = make([]byte, stringsLen)
	if _, err := io.ReadFull(br, p.Strings); err != nil {
		return nil, err
	}

	return p, nil
}
