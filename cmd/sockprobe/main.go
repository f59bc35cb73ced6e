package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := newProbeCommand(os.Stdin, os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sockprobe: %v\n", err)
		os.Exit(1)
	}
}
