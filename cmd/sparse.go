package cmd

import (
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-droidimg/internal/services"
	"github.com/deploymenttheory/go-droidimg/pkg/app"
)

var sparseBlockSize uint32

var sparseCmd = &cobra.Command{
	Use:   "sparse",
	Short: "Convert between Android sparse images and raw images",
}

var sparseDecodeCmd = &cobra.Command{
	Use:     "decode <sparse.img> <raw.img>",
	Aliases: []string{"unsparse"},
	Short:   "Expand a sparse image into a raw image",
	Example: heredoc.Doc(`
		$ droidimg sparse decode system.img system.raw.img`),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		progress, done := newProgressBar("decode")
		result, err := services.NewSparseService(ctx.Config).DecodeFile(ctx, args[0], args[1], progress)
		done()
		if err != nil {
			return app.FromError("failed to decode sparse image", err)
		}
		if ok, err := writeStructured(result); ok {
			return err
		}
		printf("%s %s (%d raw, %d fill, %d skip, %d crc chunks)\n", okColor("Wrote"),
			humanize.IBytes(uint64(result.BytesWritten)), result.RawChunks, result.FillChunks, result.DontCareChunks, result.CRCChunks)
		return nil
	},
}

var sparseEncodeCmd = &cobra.Command{
	Use:     "encode <raw.img> <sparse.img>",
	Aliases: []string{"sparsify"},
	Short:   "Compact a raw image into sparse format",
	Example: heredoc.Doc(`
		$ droidimg sparse encode vendor.raw.img vendor.img --block-size 4096`),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		header, err := services.NewSparseService(ctx.Config).EncodeFile(ctx, args[0], args[1], sparseBlockSize)
		if err != nil {
			return app.FromError("failed to encode sparse image", err)
		}
		if ok, err := writeStructured(header); ok {
			return err
		}
		printf("%s %s: %d blocks of %d bytes in %d chunks\n", okColor("Wrote"), args[1], header.TotalBlocks, header.BlockSize, header.TotalChunks)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sparseCmd)
	sparseCmd.AddCommand(sparseDecodeCmd, sparseEncodeCmd)
	sparseEncodeCmd.Flags().Uint32Var(&sparseBlockSize, "block-size", 4096, "block size, a multiple of 4")
}
