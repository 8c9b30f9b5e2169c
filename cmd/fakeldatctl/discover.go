package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// runDiscover browses the LAN for advertised feed listeners and prints
// one line per instance found.
func runDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	wait := fs.Duration("wait", 3*time.Second, "How long to browse")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mdns resolver: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			host := e.HostName
			if len(e.AddrIPv4) > 0 {
				host = e.AddrIPv4[0].String()
			}
			fmt.Printf("%s %s:%d %s\n", e.Instance, host, e.Port, strings.Join(e.Text, " "))
		}
	}()
	if err := resolver.Browse(ctx, mdnsServiceType, "local.", entries); err != nil {
		fmt.Fprintf(os.Stderr, "mdns browse: %v\n", err)
		return 1
	}
	<-ctx.Done()
	<-done
	return 0
}
