package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/ornolab/foreman/foreman/flags"
	"github.com/ornolab/foreman/foreman/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var foremanCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Foreman schedules dependent tasks over a shared resource pool.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return log.Init()
	},
}

func init() {
	foremanCmd.AddCommand(runCmd)
	foremanCmd.AddCommand(validateCmd)
	foremanCmd.AddCommand(versionCmd)

	flags.Setup(foremanCmd.PersistentFlags())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	setupInterrupts(cancel)

	foremanCmd.SetOut(os.Stdout)
	if err := foremanCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}

// setupInterrupts handles SIGINT/SIGTERM with a double-tap pattern:
// - First signal: calls cancel() which cascades shutdown through ctx.Done()
// - Second signal: forces immediate exit (in case graceful shutdown hangs)
func setupInterrupts(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1) // buffered: won't miss a signal while processing
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		log.Info("Shutdown signal received, attempting graceful shutdown")
		cancel()
		<-sig
		log.Warn("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()
}
