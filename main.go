package main

import (
	"log/slog"

	"github.com/BioHazard786/meshroom/cmd"
	"github.com/BioHazard786/meshroom/internal/logging"
)

func main() {
	logging.Init(nil, slog.LevelError)
	cmd.Execute()
}
