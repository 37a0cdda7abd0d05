// Command lispvm loads a compiled binary and runs it on the
// microcoded machine in package machine, feeding it an input file and
// writing its output to another.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v2"

	"lispmc/machine"
)

func main() {
	app := &cli.App{
		Name:      "lispvm",
		Usage:     "run a compiled machine binary",
		UsageText: "lispvm [options] <program.bin> <input.txt> <output.txt>",
		Version:   "0.1.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "step",
				Usage: "single-step through the run with an interactive debugger",
			},
			&cli.StringFlag{
				Name:  "trace",
				Usage: "write the per-tick trace record (§4.C8) to this file",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log run progress at debug level",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("lispvm: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Bool("verbose") {
		log.SetLevel(log.DebugLevel)
	}
	if c.Args().Len() != 3 {
		cli.ShowAppHelp(c)
		return cli.Exit("expected <program.bin> <input.txt> <output.txt> arguments", 2)
	}
	programPath := c.Args().Get(0)
	inputPath := c.Args().Get(1)
	outputPath := c.Args().Get(2)

	programFile, err := os.Open(programPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", programPath)
	}
	defer programFile.Close()
	program, err := machine.LoadProgram(programFile)
	if err != nil {
		return errors.Wrapf(err, "loading %s", programPath)
	}
	log.Infof("loaded %s: %d instruction(s), %d data word(s)", programPath, len(program.Instructions), len(program.InitialData))

	input, err := os.ReadFile(inputPath)
	if err != nil {
		return errors.Wrapf(err, "reading %s", inputPath)
	}

	var tracer *machine.Tracer
	if tracePath := c.String("trace"); tracePath != "" {
		traceFile, err := os.Create(tracePath)
		if err != nil {
			return errors.Wrapf(err, "creating %s", tracePath)
		}
		defer traceFile.Close()
		tracer = machine.NewTracer(traceFile)
	}

	ports := machine.NewPorts(input)
	state := machine.NewState(program.Instructions, program.InitialData, ports)
	engine := machine.NewEngine(state, tracer)

	if c.Bool("step") {
		if err := stepDebugger(engine); err != nil {
			return err
		}
	} else {
		engine.Run()
	}

	log.Infof("halted after %d tick(s): %s", state.MacroCnt, haltDescription(engine.HaltReason))

	if err := os.WriteFile(outputPath, []byte(ports.Output()), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", outputPath)
	}
	return nil
}

func haltDescription(reason machine.HaltReason) string {
	if reason == machine.HaltNone {
		return "unknown"
	}
	return string(reason)
}

func fmtState(s *machine.State) string {
	return fmt.Sprintf(
		"uPC=%02d IP=%08X ACC=%d DR=%d SP=%08X DataA=%d Z=%v N=%v ticks=%d",
		s.UPC, s.Ip, int32(s.Acc), int32(s.Dr), s.Sp, s.DataA, s.Z, s.N, s.MacroCnt,
	)
}
