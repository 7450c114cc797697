package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "ideaboard",
	Short:         "Ideation boards for product design, driven by language and image models",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(clearRejectedCmd)
	rootCmd.AddCommand(outlineCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		printError("%v", err)
		os.Exit(1)
	}
}
