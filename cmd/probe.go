package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-droidimg/internal/services"
	"github.com/deploymenttheory/go-droidimg/pkg/app"
)

var probeCmd = &cobra.Command{
	Use:   "probe <image>",
	Short: "Identify the filesystem in an image from its superblock",
	Long:  "Recognises ext4, f2fs and erofs, including a filesystem wrapped in a sparse image.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		info, err := services.NewFilesystemService(ctx.Config).Probe(args[0])
		if err != nil {
			return app.FromError("failed to probe filesystem", err)
		}
		if ok, err := writeStructured(info); ok {
			return err
		}

		printf("%s %s", headingColor("Filesystem"), info.Type)
		if info.Container != "" {
			printf(" (inside %s)", info.Container)
		}
		printf("\n  Volume name: %s\n", info.VolumeName)
		printf("  UUID:        %s\n", info.UUID)
		printf("  Block size:  %d\n", info.BlockSize)
		printf("  Blocks:      %d\n", info.BlockCount)
		if info.InodeCount > 0 {
			printf("  Inodes:      %d\n", info.InodeCount)
		}
		printf("  Total size:  %d bytes\n", info.TotalSize)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
