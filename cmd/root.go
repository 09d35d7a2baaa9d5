package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/logging"
	"github.com/BioHazard786/meshroom/internal/ui"
	"github.com/BioHazard786/meshroom/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagDomain   string
	flagInsecure bool
	flagLogFile  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshroom",
	Short: "Full-mesh WebRTC rooms negotiated over a lightweight relay",
	Long: `Meshroom connects everyone in a room to everyone else over WebRTC data
channels. A small relay carries the offers, answers and ICE candidates; once
the mesh is up, messages travel directly between peers.

Run "meshroom relay" to host a relay, "meshroom rooms create" to reserve a
room, and "meshroom join <room>" on every machine that should take part.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

// loadConfig resolves configuration from the persistent flags plus opts.
func loadConfig(opts config.Options) (*config.Config, error) {
	opts.ConfigPath = flagConfig
	opts.Domain = flagDomain
	opts.Insecure = flagInsecure
	return config.Load(opts)
}

// sessionLogger returns the logger for commands that own the terminal. Logs
// go to --log-file when given and are dropped otherwise.
func sessionLogger() (*slog.Logger, io.Closer, error) {
	if flagLogFile == "" {
		return logging.Discard(), io.NopCloser(nil), nil
	}
	f, err := logging.OpenFile(flagLogFile)
	if err != nil {
		return nil, nil, err
	}
	return logging.Init(f, slog.LevelInfo), f, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVarP(&flagDomain, "domain", "d", "", "Relay domain")
	rootCmd.PersistentFlags().BoolVar(&flagInsecure, "insecure", false, "Use ws:// and http:// for a relay without TLS")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Write logs to this file")
}
