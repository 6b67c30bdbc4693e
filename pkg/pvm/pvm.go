// Package pvm is the VM driver: it owns the machine state, loads a program
// image into paged memory, runs the fetch-decode-execute loop, checks gas,
// and surfaces the terminal exit condition to the host. It is the single
// source of truth for when a run ends; neither the decoder nor the
// executor terminates a run except by returning an exit tag.
package pvm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/andyjsbell/pvm-dart/pkg/decoder"
	"github.com/andyjsbell/pvm-dart/pkg/executor"
	"github.com/andyjsbell/pvm-dart/pkg/pagedmem"
)

// DefaultGasLimit is spec.md §3's suggested gas limit for a caller that has
// no limit of its own to supply. Run never substitutes it implicitly; a
// caller wanting this default passes it explicitly (see cmd/pvmrun and
// cmd/pvmexec, which use it as their -gas flag's default value).
const DefaultGasLimit = 1_000_000

// ErrNilProgram is returned when Run is called with an empty program image.
var ErrNilProgram = errors.New("pvm: program image is nil or empty")

// State is the final, host-observable machine state after a run: the
// register file, PC, remaining gas, and the paged memory the program ran
// against.
type State = executor.State

// ExitReason re-exports the executor's terminal tags; the driver never
// invents exit reasons of its own.
type ExitReason = executor.ExitReason

const (
	RegularHalt = executor.RegularHalt
	Panic       = executor.Panic
	OutOfGas    = executor.OutOfGas
	PageFault   = executor.PageFault
	HostCall    = executor.HostCall
)

// Run loads program into a fresh paged memory, copies the prefix of
// initialRegisters into the register file, and executes until one of the
// five exit conditions is reached. gasLimit is used exactly as given,
// including a literal 0 (spec.md §8 scenario 2 requires that a 0 gas
// limit terminate with out-of-gas on the first cycle); DefaultGasLimit is
// only a suggested value for a caller that has no limit of its own to
// supply, never a substitution Run performs on its caller's behalf.
//
// Run reports an argument error (and creates no state) only when program is
// empty; every other outcome — including a program that immediately traps
// or runs out of gas — is reported through the returned exit reason, never
// as an error.
func Run(program []byte, initialRegisters []uint64, gasLimit int64) (ExitReason, *State, error) {
	if len(program) == 0 {
		return 0, nil, ErrNilProgram
	}

	st := &State{Gas: gasLimit, Memory: pagedmem.New()}
	n := len(initialRegisters)
	if n > executor.NumRegisters {
		n = executor.NumRegisters
	}
	copy(st.Registers[:n], initialRegisters[:n])

	loadProgram(st.Memory, program)

	reason, data := loop(st)
	st.ExitReason = reason
	st.ExitData = data
	return reason, st, nil
}

// loadProgram splits the program image into 4096-byte chunks and maps each
// as a read-only page starting at page index 0, zero-padding the final
// page's tail.
func loadProgram(mem *pagedmem.Memory, program []byte) {
	for idx := uint64(0); ; idx++ {
		start := idx * pagedmem.PageSize
		if start >= uint64(len(program)) {
			break
		}
		end := start + pagedmem.PageSize
		if end > uint64(len(program)) {
			end = uint64(len(program))
		}
		mem.LoadPage(idx, pagedmem.ReadOnly, program[start:end])
	}
}

// loop runs fetch->decode->execute until an exit condition is reached.
func loop(st *State) (ExitReason, string) {
	for {
		if st.Gas <= 0 {
			return executor.OutOfGas, "gas exhausted"
		}

		word, err := fetch(st)
		if err != nil {
			return executor.Panic, err.Error()
		}

		decoded, err := decoder.Decode(word, st.PC)
		if err != nil {
			return executor.Panic, err.Error()
		}

		result := executor.Step(decoded, st)
		if result.Exit != nil {
			st.PC = result.NextPC
			return result.Exit.Reason, result.Exit.Data
		}

		st.PC = result.NextPC
		st.Gas -= int64(result.GasCost)
	}
}

// fetch reads the 4-byte little-endian instruction word at the current PC.
// A failed fetch (unmapped or non-readable page, or PC not aligned to a
// 4-byte instruction boundary) is a panic, never a page-fault: jumping to
// unmapped code panics, dereferencing an unmapped data pointer
// page-faults. See spec.md §9.
func fetch(st *State) (uint32, error) {
	if st.PC%4 != 0 {
		return 0, fmt.Errorf("pvm: misaligned fetch at pc=0x%x", st.PC)
	}
	raw, err := st.Memory.Read(st.PC, 4)
	if err != nil {
		return 0, fmt.Errorf("pvm: failed instruction fetch at pc=0x%x: %s", st.PC, err.Error())
	}
	return binary.LittleEndian.Uint32(raw), nil
}
