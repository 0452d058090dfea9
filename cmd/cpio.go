package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-droidimg/internal/services"
	"github.com/deploymenttheory/go-droidimg/internal/types"
	"github.com/deploymenttheory/go-droidimg/pkg/app"
)

var (
	cpioExtractDir string
	cpioPackOut    string
	cpioPackFormat string
)

var cpioCmd = &cobra.Command{
	Use:   "cpio",
	Short: "List, extract and pack newc cpio archives",
	Long:  "Compressed archives (gzip, lz4, xz, zstd) are detected and decoded transparently.",
}

var cpioListCmd = &cobra.Command{
	Use:   "list <ramdisk>",
	Short: "List archive entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		entries, err := services.NewCpioService(ctx.Config).ListFile(ctx, args[0])
		if err != nil {
			return app.FromError("failed to list archive", err)
		}
		if ok, err := writeStructured(entries); ok {
			return err
		}

		w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "MODE\tUID\tGID\tSIZE\tNAME\n")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", os.FileMode(e.Perm())|modeType(&e), e.UID, e.GID, e.FileSize, e.Name)
		}
		return w.Flush()
	},
}

func modeType(e *types.CpioEntry) os.FileMode {
	switch {
	case e.IsDir():
		return os.ModeDir
	case e.IsSymlink():
		return os.ModeSymlink
	case e.IsRegular():
		return 0
	default:
		return os.ModeIrregular
	}
}

var cpioExtractCmd = &cobra.Command{
	Use:   "extract <ramdisk>",
	Short: "Extract an archive into a directory",
	Example: heredoc.Doc(`
		$ droidimg cpio extract ramdisk.cpio.gz -d ramdisk`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		result, err := services.NewCpioService(ctx.Config).ExtractFile(ctx, args[0], cpioExtractDir)
		if err != nil {
			return app.FromError("failed to extract archive", err)
		}
		if ok, err := writeStructured(result); ok {
			return err
		}
		printf("%s %d files, %d dirs, %d symlinks (%s) into %s\n", okColor("Extracted"),
			result.Files, result.Dirs, result.Symlinks, humanize.IBytes(uint64(result.Bytes)), cpioExtractDir)
		if result.Skipped > 0 {
			printf("%s %d unsafe or unsupported entries skipped\n", warnColor("Note:"), result.Skipped)
		}
		return nil
	},
}

var cpioPackCmd = &cobra.Command{
	Use:   "pack <dir>",
	Short: "Pack a directory tree into a newc archive",
	Example: heredoc.Doc(`
		# Plain archive
		$ droidimg cpio pack ramdisk -O ramdisk.cpio

		# gzip compressed, ready for a boot image
		$ droidimg cpio pack ramdisk -O ramdisk.cpio.gz --format gzip`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		format, ok := types.ParseCompressionFormat(cpioPackFormat)
		if !ok {
			return app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("unknown format %q", cpioPackFormat), nil)
		}

		f, err := os.Create(cpioPackOut)
		if err != nil {
			return app.FromError("failed to create archive", types.WrapIOError("pack cpio", cpioPackOut, err))
		}
		defer f.Close()

		var w io.Writer = f
		var closer io.Closer
		if format.IsCompressed() {
			cw, err := services.NewCompressionService().NewWriter(f, format)
			if err != nil {
				return app.FromError("failed to start compressor", err)
			}
			w, closer = cw, cw
		}

		count, err := services.NewCpioService(ctx.Config).Pack(ctx, args[0], w)
		if err != nil {
			return app.FromError("failed to pack archive", err)
		}
		if closer != nil {
			if err := closer.Close(); err != nil {
				return app.FromError("failed to finish compression", types.WrapIOError("pack cpio", cpioPackOut, err))
			}
		}
		if err := f.Close(); err != nil {
			return app.FromError("failed to write archive", types.WrapIOError("pack cpio", cpioPackOut, err))
		}
		printf("%s %d entries into %s (%s)\n", okColor("Packed"), count, cpioPackOut, format)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cpioCmd)
	cpioCmd.AddCommand(cpioListCmd, cpioExtractCmd, cpioPackCmd)

	cpioExtractCmd.Flags().StringVarP(&cpioExtractDir, "dir", "d", "ramdisk", "output directory")
	cpioPackCmd.Flags().StringVarP(&cpioPackOut, "out", "O", "", "output archive path (required)")
	cpioPackCmd.Flags().Var(newEnumValue(&cpioPackFormat, "raw", "raw", "gzip", "lz4", "lz4_legacy", "xz", "zstd"), "format", "compression (raw, gzip, lz4, lz4_legacy, xz, zstd)")
	cpioPackCmd.MarkFlagRequired("out")
}
