// Command pvmrun loads a bytecode image and executes it to completion,
// reporting the terminal exit reason, PC and remaining gas, and (with -v)
// the final register file.
package main

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"github.com/andyjsbell/pvm-dart/pkg/pvm"
	"gopkg.in/urfave/cli.v1"
)

func main() {
	log.SetFlags(0)

	app := cli.NewApp()
	app.Name = "pvmrun"
	app.Usage = "run a pvm bytecode image to completion"
	app.ArgsUsage = "<bytecode-file>"
	app.Flags = []cli.Flag{
		cli.Int64Flag{Name: "gas", Value: pvm.DefaultGasLimit, Usage: "gas limit (pass 0 explicitly to run with no gas at all)"},
		cli.BoolFlag{Name: "v", Usage: "print the final register file"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("usage: pvmrun [-gas <n>] [-v] <bytecode-file>", 1)
	}
	image, err := ioutil.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return err
	}

	reason, st, err := pvm.Run(image, nil, ctx.Int64("gas"))
	if err != nil {
		return err
	}

	fmt.Printf("exit: %s\n", reason)
	if st.ExitData != "" {
		fmt.Printf("data: %s\n", st.ExitData)
	}
	fmt.Printf("pc: 0x%x, gas remaining: %d\n", st.PC, st.Gas)
	if ctx.Bool("v") {
		for i, r := range st.Registers {
			fmt.Printf("r%-2d = %d (0x%x)\n", i, r, r)
		}
	}

	if reason != pvm.RegularHalt {
		os.Exit(1)
	}
	return nil
}
