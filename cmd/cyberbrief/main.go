package main

import (
	"cyberbrief/cmd/cmd"
	"cyberbrief/internal/logger"
)

func main() {
	logger.Init()
	cmd.Execute()
}
