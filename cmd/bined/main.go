// Package main is the entry point for the bined binary editor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/ogier/pflag"

	"github.com/dshills/bined/internal/app"
	"github.com/dshills/bined/internal/engine"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// argsValue collects repeated key=value flags.
type argsValue map[string]string

func (a argsValue) String() string {
	parts := make([]string, 0, len(a))
	for k, v := range a {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (a argsValue) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	a[k] = v
	return nil
}

type cliOptions struct {
	app      app.Options
	script   string
	args     argsValue
	output   string
	dump     string
	segments bool
	input    string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	application, err := app.New(opts.app)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := edit(ctx, application, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// edit opens the input, applies the script and writes the requested output.
func edit(ctx context.Context, application *app.Application, opts cliOptions) error {
	doc, err := openInput(application, opts.input)
	if err != nil {
		return err
	}

	if opts.script != "" {
		result, err := application.RunScript(ctx, doc, opts.script, opts.args)
		if err != nil {
			return err
		}
		if result != nil {
			fmt.Println(result)
		}
	}

	if opts.segments {
		if err := application.Describe(os.Stdout, doc); err != nil {
			return err
		}
	}

	if opts.dump != "" {
		off, length, err := app.ParseRange(opts.dump)
		if err != nil {
			return err
		}
		if err := application.Dump(os.Stdout, doc, off, length); err != nil {
			return err
		}
	}

	switch opts.output {
	case "":
	case "-":
		return application.Write(doc, os.Stdout)
	default:
		if err := application.Save(doc, opts.output); err != nil {
			return err
		}
		application.Logger().Info("wrote %d bytes to %s", doc.Size(), opts.output)
	}
	return nil
}

// openInput opens path, reads standard input for "-" or creates an empty
// document when no input is named.
func openInput(application *app.Application, path string) (*engine.Document, error) {
	if path == "-" {
		return application.Load(os.Stdin)
	}
	return application.Open(path)
}

func parseFlags() cliOptions {
	opts := cliOptions{args: argsValue{}}
	var showVersion bool
	var showHelp bool

	flag.StringVarP(&opts.app.ConfigPath, "config", "c", "", "Path to configuration file")
	flag.StringVarP(&opts.script, "script", "s", "", "Edit script to apply (.yaml, .yml or .lua)")
	flag.VarP(opts.args, "arg", "a", "Script argument as key=value (repeatable)")
	flag.StringVarP(&opts.output, "output", "o", "", "Write the result to a file, or - for stdout")
	flag.StringVarP(&opts.dump, "dump", "d", "", "Hex dump offset[:length] after editing")
	flag.BoolVar(&opts.segments, "segments", false, "List the segments of the result")
	flag.StringVarP(&opts.app.LogLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.app.Verify, "verify", false, "Validate document structure after every edit")
	flag.BoolVar(&opts.app.SkipUserConfig, "no-user-config", false, "Ignore the per-user configuration file")
	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	flag.BoolVarP(&showHelp, "help", "h", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "bined - binary file editor\n\n")
		fmt.Fprintf(os.Stderr, "Usage: bined [options] [file|-]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  bined -d 0:64 image.bin                 Dump the first 64 bytes\n")
		fmt.Fprintf(os.Stderr, "  bined -s patch.yaml -o out.bin in.bin   Apply a YAML edit script\n")
		fmt.Fprintf(os.Stderr, "  bined -s fix.lua -a magic=7f in.bin -o in.bin\n")
		fmt.Fprintf(os.Stderr, "  cat in.bin | bined -s fix.lua -o - -    Edit a stream\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("bined %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	if flag.NArg() > 1 {
		fmt.Fprintf(os.Stderr, "Error: expected at most one input file, got %d\n", flag.NArg())
		flag.Usage()
		os.Exit(2)
	}
	opts.input = flag.Arg(0)

	return opts
}
