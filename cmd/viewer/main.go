package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"beaconscan/internal/config"
	"beaconscan/internal/viewer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	path := flag.String("file", cfg.OutputPath, "Beacon table to follow")
	interval := flag.Duration("interval", cfg.ViewerInterval, "Reload interval")
	flag.Parse()

	p := tea.NewProgram(viewer.New(*path, *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "viewer: %v\n", err)
		os.Exit(1)
	}
}
