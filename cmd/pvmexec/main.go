// Command pvmexec assembles and runs a program in one step, the
// interpreter-style entry point: it exposes the same per-instruction
// tracing and single-step pause the original teacher's interp command
// offered, rebuilt around the new decoder/executor/pvm split.
package main

import (
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"github.com/andyjsbell/pvm-dart/pkg/asm"
	"github.com/andyjsbell/pvm-dart/pkg/decoder"
	"github.com/andyjsbell/pvm-dart/pkg/executor"
	"github.com/andyjsbell/pvm-dart/pkg/pagedmem"
	"github.com/andyjsbell/pvm-dart/pkg/pvm"
	"gopkg.in/urfave/cli.v1"
)

func main() {
	log.SetFlags(0)

	app := cli.NewApp()
	app.Name = "pvmexec"
	app.Usage = "assemble and run a pvm program, with optional tracing"
	app.ArgsUsage = "<source-file>"
	app.Flags = []cli.Flag{
		cli.Int64Flag{Name: "gas", Value: pvm.DefaultGasLimit, Usage: "gas limit (pass 0 explicitly to run with no gas at all)"},
		cli.BoolFlag{Name: "v", Usage: "trace every instruction before executing it"},
		cli.BoolFlag{Name: "d", Usage: "pause for input before every instruction"},
	}
	app.Action = exec

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func exec(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("usage: pvmexec [-gas <n>] [-v] [-d] <source-file>", 1)
	}
	src, err := ioutil.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	image, err := asm.Assemble(string(src))
	if err != nil {
		return err
	}

	gas := ctx.Int64("gas")
	verbose := ctx.Bool("v")
	debug := ctx.Bool("d")

	mem := pagedmem.New()
	for idx := uint64(0); idx*pagedmem.PageSize < uint64(len(image)); idx++ {
		start := idx * pagedmem.PageSize
		end := start + pagedmem.PageSize
		if end > uint64(len(image)) {
			end = uint64(len(image))
		}
		mem.LoadPage(idx, pagedmem.ReadOnly, image[start:end])
	}
	st := &executor.State{Gas: gas, Memory: mem}

	for {
		if st.Gas <= 0 {
			fmt.Println("exit: out-of-gas")
			os.Exit(1)
		}

		raw, err := st.Memory.Read(st.PC, 4)
		if err != nil {
			log.Fatalf("pvmexec: fetch failed at pc=0x%x: %v", st.PC, err)
		}
		word := binary.LittleEndian.Uint32(raw)

		decoded, err := decoder.Decode(word, st.PC)
		if err != nil {
			log.Fatalf("pvmexec: decode failed at pc=0x%x: %v", st.PC, err)
		}
		if verbose {
			log.Printf("pc=0x%08x  %s", st.PC, decoder.Disassemble(decoded))
		}
		if debug {
			fmt.Print("paused, press enter to continue...")
			fmt.Scanln()
		}

		result := executor.Step(decoded, st)
		st.PC = result.NextPC
		if result.Exit != nil {
			fmt.Printf("exit: %s\n", result.Exit.Reason)
			if result.Exit.Data != "" {
				fmt.Printf("data: %s\n", result.Exit.Data)
			}
			if result.Exit.Reason != executor.RegularHalt {
				os.Exit(1)
			}
			return nil
		}
		st.Gas -= int64(result.GasCost)
	}
}
