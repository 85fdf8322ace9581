// Command corevm loads a corevm bytecode file and runs, disassembles, or
// interactively debugs it. Its subcommand layout and --gc-percent/--trace
// flags are adapted from the teacher's main.go and run.go — same idea
// (flags controlling the GOGC knob around the hot dispatch loop, a debug
// mode that pauses between instructions) rewired onto cobra/pflag, the CLI
// stack the rest of the example pack reaches for.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"corevm/asm"
	"corevm/debugger"
	"corevm/hostlib"
	"corevm/vm"
)

var (
	trace     bool
	gcPercent int
)

func main() {
	root := &cobra.Command{
		Use:   "corevm",
		Short: "corevm runs, disassembles, and debugs corevm bytecode files",
	}
	root.PersistentFlags().BoolVar(&trace, "trace", false, "log every decoded instruction before it executes")
	root.PersistentFlags().IntVar(&gcPercent, "gc-percent", -1, "GOGC percent during execution (-1 disables the collector for the run)")

	root.AddCommand(runCmd(), disasmCmd(), debugCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <bytecode-file>",
		Short: "run a corevm bytecode file to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := uuid.New()
			program, err := loadProgram(args[0])
			if err != nil {
				return err
			}

			stdout := bufio.NewWriter(os.Stdout)
			defer stdout.Flush()
			natives := hostlib.Standard(stdout).Build()
			machine, err := vm.NewInterpreter(program, natives, stdout)
			if err != nil {
				return err
			}
			machine.Trace = trace

			restore := debug.SetGCPercent(gcPercent)
			defer debug.SetGCPercent(restore)

			result, ferr := machine.Run()
			if ferr != nil {
				log.Printf("run %s: %v (exit %d)", runID, ferr, ferr.ExitCode())
				stdout.Flush()
				os.Exit(ferr.ExitCode())
			}
			stdout.Flush()
			os.Exit(int(result))
			return nil
		},
	}
}

func disasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <bytecode-file>",
		Short: "disassemble a corevm bytecode file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := loadProgram(args[0])
			if err != nil {
				return err
			}
			fmt.Print(vm.Disassemble(program))
			return nil
		},
	}
}

func debugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug <bytecode-file>",
		Short: "single-step a corevm bytecode file interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := loadProgram(args[0])
			if err != nil {
				return err
			}
			stdout := bufio.NewWriter(os.Stdout)
			defer stdout.Flush()
			natives := hostlib.Standard(stdout).Build()
			machine, err := vm.NewInterpreter(program, natives, stdout)
			if err != nil {
				return err
			}
			machine.Trace = trace
			return debugger.Run(os.Stdout, machine)
		},
	}
}

func loadProgram(path string) (*vm.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return asm.Load(f)
}

