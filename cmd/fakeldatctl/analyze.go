package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fakeldat/go-fakeldat/internal/analyze"
)

// runAnalyze reads raw CSV rows from a file (or stdin) and prints the
// derived latency results.
func runAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	window := fs.Int("window", 150, "Brightness samples in the rolling mean")
	offset := fs.Int("offset", 150, "Detection margin above the rolling mean")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "usage: fakeldatctl analyze [flags] [file]")
		return 2
	}
	in := os.Stdin
	if fs.NArg() == 1 {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "open input: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a := analyze.New(os.Stdout, analyze.WithWindow(*window), analyze.WithOffset(*offset))
	if err := a.Run(ctx, in); err != nil {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
		return 1
	}
	return 0
}
