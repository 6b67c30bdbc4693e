// Command pvmasm assembles a textual program into the bytecode image the
// VM's loader expects.
package main

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"github.com/andyjsbell/pvm-dart/pkg/asm"
	"gopkg.in/urfave/cli.v1"
)

func main() {
	log.SetFlags(0)

	app := cli.NewApp()
	app.Name = "pvmasm"
	app.Usage = "assemble a pvm program into a bytecode image"
	app.ArgsUsage = "<source-file>"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "o", Usage: "output file (default: stdout)"},
	}
	app.Action = assemble

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func assemble(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("usage: pvmasm [-o <out>] <source-file>", 1)
	}
	src, err := ioutil.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	image, err := asm.Assemble(string(src))
	if err != nil {
		return err
	}
	if out := ctx.String("o"); out != "" {
		return ioutil.WriteFile(out, image, 0644)
	}
	_, err = fmt.Print(string(image))
	return err
}
