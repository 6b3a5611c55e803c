package main

import (
	"fmt"
	"os"
	"runtime"

	"screen-ghost/src/cli"
)

func main() {
	// The tray menu must own the main OS thread on macOS and some Linux
	// desktops.
	runtime.LockOSThread()

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
