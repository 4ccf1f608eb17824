package main

import (
	"os"

	"github.com/rcliao/memory-service/internal/cli"
	"github.com/rcliao/memory-service/internal/logging"
)

func main() {
	err := cli.RootCmd.Execute()
	logging.Sync()
	if err != nil {
		os.Exit(1)
	}
}
