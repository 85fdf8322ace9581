// Package debugger drives a vm.VM one instruction at a time under an
// interactive terminal, the role the teacher's RunProgramDebugMode played
// for its register machine. Raw-mode handling is grounded on
// terminal_host.go's term.MakeRaw/term.Restore pairing (read one byte,
// restore the terminal on the way out, never leave it raw on a panic path).
package debugger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"golang.org/x/term"

	"corevm/vm"
)

// Run single-steps machine under raw-mode keyboard control until it
// terminates or the user quits. Recognized keys:
//
//	n        step one instruction
//	r        run to completion, or until a breakpoint pc is reached
//	b<addr>  set a breakpoint at code offset addr, then Enter
//	q        quit
//
// stdin must be a terminal (os.Stdin) for raw mode; Run falls back to
// running to completion immediately if it isn't one.
func Run(w io.Writer, machine *vm.VM) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fmt.Fprintln(bw, "debugger: stdin is not a terminal, running to completion")
		bw.Flush()
		result, rerr := machine.Run()
		return reportOutcome(bw, result, rerr)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("debugger: failed to set raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	breakpoints := make(map[int]bool)
	running := false

	for {
		fmt.Fprintf(bw, "\r\ndepth=%d stack=%d %s\r\n", machine.CallDepth(), machine.StackSize(),
			vm.DisassembleOne(machine.Code(), machine.PC()))
		bw.Flush()

		if running && !breakpoints[machine.PC()] {
			// fall through and execute without prompting
		} else {
			running = false
			key, addr, rerr := readCommand(bw)
			if rerr != nil {
				return rerr
			}
			switch key {
			case 'q':
				fmt.Fprintln(bw, "\r\nquit")
				return nil
			case 'r':
				running = true
			case 'b':
				breakpoints[addr] = true
				fmt.Fprintf(bw, "\r\nbreakpoint set at %d\r\n", addr)
				continue
			case 'n':
				// step below
			default:
				continue
			}
		}

		result, done, ferr := machine.Step()
		if ferr != nil {
			return reportOutcome(bw, result, ferr)
		}
		if done {
			return reportOutcome(bw, result, nil)
		}
	}
}

// readCommand reads one command key, plus (for 'b') a decimal address
// terminated by Enter, echoing keystrokes since raw mode disables the
// terminal's own echo.
func readCommand(w io.Writer) (key byte, addr int, err error) {
	fmt.Fprint(w, "[n]ext [r]un [b]reak <addr> [q]uit> ")
	buf := make([]byte, 1)
	if _, err = os.Stdin.Read(buf); err != nil {
		return 0, 0, err
	}
	key = buf[0]
	fmt.Fprintf(w, "%c", key)

	if key != 'b' {
		return key, 0, nil
	}

	var digits []byte
	for {
		if _, err = os.Stdin.Read(buf); err != nil {
			return 0, 0, err
		}
		if buf[0] == '\r' || buf[0] == '\n' {
			break
		}
		digits = append(digits, buf[0])
		fmt.Fprintf(w, "%c", buf[0])
	}
	addr, convErr := strconv.Atoi(string(digits))
	if convErr != nil {
		return key, 0, nil
	}
	return key, addr, nil
}

func reportOutcome(w io.Writer, result int32, ferr *vm.RuntimeError) error {
	if ferr != nil {
		fmt.Fprintf(w, "\r\n%s\r\n", ferr.Error())
		return ferr
	}
	fmt.Fprintf(w, "\r\nprogram returned %d\r\n", result)
	return nil
}
