package main

import (
	"compat-probe/cmd"
	"compat-probe/logger"

	_ "go.uber.org/automaxprocs"
)

func main() {
	defer logger.Sync() // Ensure logs are flushed on exit
	cmd.Execute()
}
