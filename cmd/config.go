package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Shows the settings after merging defaults, droidimg-config.yaml and
DROIDIMG_* environment variables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ok, err := writeStructured(appConfig); ok {
			return err
		}
		encoder := yaml.NewEncoder(stdout)
		defer encoder.Close()
		encoder.SetIndent(2)
		return encoder.Encode(appConfig)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
