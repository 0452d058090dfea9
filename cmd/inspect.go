package cmd

import (
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-droidimg/pkg/app/inspect"
)

var (
	inspectMaxRegions int
	inspectProbe      bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Classify a file and map its byte regions",
	Example: heredoc.Doc(`
		# Region map of a boot image
		$ droidimg inspect boot.img

		# Include filesystem or partition detail, as YAML
		$ droidimg inspect --probe -o yaml super.img`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().IntVar(&inspectMaxRegions, "max-regions", 0, "show at most this many regions (0 shows all)")
	inspectCmd.Flags().BoolVar(&inspectProbe, "probe", true, "add filesystem and partition table detail")
}

func runInspect(cmd *cobra.Command, path string) error {
	ctx := newAppContext(cmd)
	ctx.SetProgress(func(message string, percent int) {
		log.WithField("percent", percent).Debug(message)
	})

	request := &inspect.Request{
		ImagePath:  path,
		MaxRegions: inspectMaxRegions,
		Probe:      inspectProbe,
	}

	response, err := inspect.Handle(ctx, request)
	if err != nil {
		return err
	}
	ctx.Log(inspect.FormatSummary(response))

	return inspect.FormatOutput(stdout, response, ctx.OutputFormat)
}
