package main

import (
	"github.com/BioHazard786/duet/cmd"
	"github.com/BioHazard786/duet/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
