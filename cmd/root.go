package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/pkg/app"
)

var (
	// Global output flags
	verbose      bool
	quiet        bool
	noColor      bool
	outputFormat string
	configFile   string

	// appConfig is loaded once flags are parsed
	appConfig = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "droidimg",
	Short: "Android boot, partition and filesystem image toolkit",
	Long: `droidimg reads, unpacks, rebuilds and patches the binary images found in
Android firmware: boot images, cpio ramdisks, GPT disk images, sparse
images and ext4/f2fs/erofs filesystems.

Commands:
  boot        Inspect, unpack and repack boot images
  cpio        List, extract and pack newc ramdisk archives
  gpt         List, extract and create GPT disk images
  sparse      Convert between sparse and raw images
  probe       Identify a filesystem superblock
  inspect     Classify a file and map its regions
  hex         Search, replace, patch, hash and compare binaries`,
	Version:           "0.1.0-dev",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("Error:"), err)
		os.Exit(app.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().VarP(newEnumValue(&outputFormat, "table", "table", "json", "yaml"), "output", "o", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default droidimg-config.yaml)")
}

func setup(cmd *cobra.Command, args []string) error {
	if noColor {
		color.NoColor = true
	}

	log.SetHandler(cli.New(os.Stderr))

	cfg, err := config.Load(configFile)
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "failed to load configuration", err)
	}
	appConfig = cfg

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid log level", err)
	}
	switch {
	case verbose:
		level = log.DebugLevel
	case quiet:
		level = log.ErrorLevel
	}
	log.SetLevel(level)
	return nil
}

// newAppContext builds the application context for one command run
func newAppContext(cmd *cobra.Command) *app.Context {
	ctx := app.NewContext()
	ctx.Context = cmd.Context()
	ctx.OutputFormat = GetOutputFormat()
	ctx.Verbose = GetVerbose()
	ctx.Quiet = GetQuiet()
	ctx.Config = appConfig
	return ctx
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quiet
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	return outputFormat
}
