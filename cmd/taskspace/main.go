// Command taskspace manages cross-repository task workspaces.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/zhubert/taskspace/cli"
	"github.com/zhubert/taskspace/logger"
)

var version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.Get().Error("panic", "value", r, "stack", string(debug.Stack()))
			fmt.Fprintln(os.Stderr, "Error: taskspace crashed unexpectedly; details are in the log")
			if path := logger.Path(); path != "" {
				fmt.Fprintf(os.Stderr, "Log: %s\n", path)
			}
			logger.Close()
			os.Exit(2)
		}
	}()

	err := cli.Execute(version)
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
