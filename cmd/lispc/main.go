// Command lispc compiles a source file into the binary format §4.C5
// defines and, optionally, a hex debug listing alongside it.
package main

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v2"

	"lispmc/compiler"
	"lispmc/machine"
)

func main() {
	app := &cli.App{
		Name:      "lispc",
		Usage:     "compile a source file to a machine binary",
		UsageText: "lispc [options] <source-file> <out-binary>",
		Version:   "0.1.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug-symbols",
				Usage: "also write <out-binary>.hex, a disassembly listing",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log compilation stages at debug level",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("lispc: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Bool("verbose") {
		log.SetLevel(log.DebugLevel)
	}
	if c.Args().Len() != 2 {
		cli.ShowAppHelp(c)
		return cli.Exit("expected <source-file> and <out-binary> arguments", 2)
	}
	sourcePath := c.Args().Get(0)
	outPath := c.Args().Get(1)

	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return errors.Wrapf(err, "reading %s", sourcePath)
	}
	log.Debugf("read %d bytes from %s", len(src), sourcePath)

	nodes, err := ParseProgram(string(src))
	if err != nil {
		return errors.Wrapf(err, "parsing %s", sourcePath)
	}
	log.Debugf("parsed %d top-level form(s)", len(nodes))

	gen := compiler.NewCodeGen()
	program, err := gen.Generate(nodes)
	if err != nil {
		return errors.Wrapf(err, "compiling %s", sourcePath)
	}
	log.Infof("compiled %s: %d instruction(s), %d data word(s)", sourcePath, len(program.Instructions), len(program.InitialData))

	out, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", outPath)
	}
	defer out.Close()
	if err := machine.WriteProgram(out, program); err != nil {
		return errors.Wrapf(err, "writing %s", outPath)
	}

	if c.Bool("debug-symbols") {
		hexPath := outPath + ".hex"
		hexOut, err := os.Create(hexPath)
		if err != nil {
			return errors.Wrapf(err, "creating %s", hexPath)
		}
		defer hexOut.Close()
		if err := machine.WriteHexListing(hexOut, program.Instructions); err != nil {
			return errors.Wrapf(err, "writing %s", hexPath)
		}
		log.Infof("wrote debug listing to %s", hexPath)
	}

	return nil
}
