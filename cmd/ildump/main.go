// Package main implements ildump, which prints the decoded body, stack
// analysis and control flow graph of methods in a module image.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/isseis/go-iast-weaver/internal/cmdcommon"
	"github.com/isseis/go-iast-weaver/internal/host"
	"github.com/isseis/go-iast-weaver/internal/terminal"
)

// ErrImagePathRequired is returned when -image is missing.
var ErrImagePathRequired = errors.New("module image path is required")

type options struct {
	imagePath string
	module    string
	method    string
	format    string
	noColor   bool
}

func main() {
	opts := options{}
	flag.StringVar(&opts.imagePath, "image", "", "module image to read (YAML)")
	flag.StringVar(&opts.module, "module", "", "module name, assembly or id. Default: every module")
	flag.StringVar(&opts.method, "method", "", "method to dump as Type::Method(params). Default: every method")
	flag.StringVar(&opts.format, "format", formatListing, "output format: listing, table or cfg")
	flag.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flag.Parse()

	palette, err := cmdcommon.SetupConsole(os.Stderr, slog.LevelWarn, terminal.Options{DisableColor: opts.noColor})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(os.Stdout, opts, palette); err != nil {
		slog.Error("Dump failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(w io.Writer, opts options, palette *terminal.Palette) error {
	if opts.imagePath == "" {
		return ErrImagePathRequired
	}
	img, err := host.LoadImage(opts.imagePath)
	if err != nil {
		return err
	}
	h, err := host.NewMemoryHost(img)
	if err != nil {
		return err
	}
	modules, err := openModules(h, opts.module)
	if err != nil {
		return err
	}
	targets, err := selectMethods(h, modules, opts.method)
	if err != nil {
		return err
	}
	for i, t := range targets {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if err := dumpMethod(w, t, opts.format, palette); err != nil {
			return fmt.Errorf("%s: %w", t.method.FullName(), err)
		}
	}
	return nil
}
