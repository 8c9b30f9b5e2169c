package main

import (
	"fmt"
	"os"

	"github.com/fakeldat/go-fakeldat/internal/serialport"
)

// runPorts lists serial devices visible to the host.
func runPorts() int {
	ports, err := serialport.ListPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list ports: %v\n", err)
		return 1
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return 0
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return 0
}
