package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-droidimg/internal/services"
	"github.com/deploymenttheory/go-droidimg/internal/types"
	"github.com/deploymenttheory/go-droidimg/pkg/app"
)

var (
	bootUnpackDir        string
	bootDecompressAll    bool
	bootExtractRamdisk   bool
	bootRepackOutput     string
	bootRepackCmdline    string
	bootRepackName       string
	bootRepackCompressor string
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Inspect, unpack and repack Android boot images",
}

// bootInfo is the structured form of boot info output
type bootInfo struct {
	Path          string           `json:"path" yaml:"path"`
	HeaderVersion uint32           `json:"header_version" yaml:"header_version"`
	PageSize      uint32           `json:"page_size" yaml:"page_size"`
	Name          string           `json:"name" yaml:"name"`
	Cmdline       string           `json:"cmdline" yaml:"cmdline"`
	OSVersion     types.OSVersion  `json:"os_version" yaml:"os_version"`
	Components    []bootComponent  `json:"components" yaml:"components"`
	Layout        types.BootLayout `json:"layout" yaml:"layout"`
}

type bootComponent struct {
	Name   string `json:"name" yaml:"name"`
	Offset int64  `json:"offset" yaml:"offset"`
	Size   uint32 `json:"size" yaml:"size"`
}

var bootInfoCmd = &cobra.Command{
	Use:   "info <boot.img>",
	Short: "Show the boot image header and component layout",
	Example: heredoc.Doc(`
		# Print header fields and component offsets
		$ droidimg boot info boot.img

		# Same as JSON
		$ droidimg boot info -o json boot.img`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		reader, err := services.NewBootImageService(ctx.Config).ReadHeader(args[0])
		if err != nil {
			return app.FromError("failed to read boot header", err)
		}

		h := reader.Header()
		layout := reader.Layout()
		info := bootInfo{
			Path:          args[0],
			HeaderVersion: reader.HeaderVersion(),
			PageSize:      reader.PageSize(),
			Name:          reader.Name(),
			Cmdline:       reader.Cmdline(),
			OSVersion:     reader.OSVersion(),
			Layout:        layout,
			Components: []bootComponent{
				{"kernel", layout.KernelOffset, h.KernelSize},
				{"ramdisk", layout.RamdiskOffset, h.RamdiskSize},
				{"second", layout.SecondOffset, h.SecondSize},
				{"recovery_dtbo", layout.RecoveryDtboOffset, h.RecoveryDtboSize},
				{"dtb", layout.DtbOffset, h.DtbSize},
				{"signature", layout.SignatureOffset, h.SignatureSize},
			},
		}

		if ok, err := writeStructured(info); ok {
			return err
		}

		v := info.OSVersion
		printf("%s %s\n", headingColor("Boot image"), info.Path)
		printf("  Header version: %d\n", info.HeaderVersion)
		printf("  Page size:      %d\n", info.PageSize)
		if info.Name != "" {
			printf("  Board name:     %s\n", info.Name)
		}
		if v != (types.OSVersion{}) {
			printf("  OS version:     %d.%d.%d (patch %04d-%02d)\n", v.Major, v.Minor, v.Patch, v.Year, v.Month)
		}
		printf("  Cmdline:        %s\n\n", info.Cmdline)

		w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "COMPONENT\tOFFSET\tSIZE\n")
		for _, c := range info.Components {
			if c.Size == 0 {
				continue
			}
			fmt.Fprintf(w, "%s\t0x%08X\t%s\n", c.Name, c.Offset, humanize.IBytes(uint64(c.Size)))
		}
		return w.Flush()
	},
}

var bootUnpackCmd = &cobra.Command{
	Use:   "unpack <boot.img>",
	Short: "Split a boot image into component files",
	Example: heredoc.Doc(`
		# Unpack into ./boot_unpacked with a bootimg.yaml manifest
		$ droidimg boot unpack boot.img

		# Decompress lz4 or xz ramdisks too and extract the cpio tree
		$ droidimg boot unpack --decompress-all --extract-ramdisk -d work boot.img`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		outDir := bootUnpackDir
		if outDir == "" {
			base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			outDir = base + "_unpacked"
		}

		progress, done := newProgressBar("unpack")
		c, err := services.NewBootImageService(ctx.Config).Unpack(ctx, args[0], outDir, services.UnpackOptions{
			DecompressAll:  bootDecompressAll || ctx.Config.DecompressAllRamdisks,
			ExtractRamdisk: bootExtractRamdisk,
		}, progress)
		done()
		if err != nil {
			return app.FromError("failed to unpack boot image", err)
		}

		log.WithFields(log.Fields{"dir": outDir, "ramdisk": c.RamdiskFormat}).Info("unpacked")
		if ok, err := writeStructured(c); ok {
			return err
		}
		printf("%s %s -> %s\n", okColor("Unpacked"), args[0], outDir)
		for _, p := range []string{c.KernelPath, c.RamdiskPath, c.SecondPath, c.RecoveryDtboPath, c.DtbPath, c.SignaturePath, c.RamdiskDir} {
			if p != "" {
				printf("  %s\n", p)
			}
		}
		return nil
	},
}

var bootRepackCmd = &cobra.Command{
	Use:   "repack <unpack-dir>",
	Short: "Rebuild a boot image from an unpack directory",
	Example: heredoc.Doc(`
		# Rebuild from the manifest written by unpack
		$ droidimg boot repack boot_unpacked -O new-boot.img

		# Override the command line and recompress the ramdisk with lz4_legacy
		$ droidimg boot repack boot_unpacked -O new-boot.img --cmdline "console=ttyMSM0" --ramdisk-format lz4_legacy`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		svc := services.NewBootImageService(ctx.Config)

		c, err := svc.LoadManifest(args[0])
		if err != nil {
			return app.FromError("failed to load manifest", err)
		}
		if cmd.Flags().Changed("cmdline") {
			c.Header.SetCmdline(bootRepackCmdline)
		}
		if cmd.Flags().Changed("name") {
			c.Header.SetName(bootRepackName)
		}
		if bootRepackCompressor != "" {
			format, ok := types.ParseCompressionFormat(bootRepackCompressor)
			if !ok {
				return app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("unknown ramdisk format %q", bootRepackCompressor), nil)
			}
			c.RamdiskFormat = format
		}

		progress, done := newProgressBar("repack")
		err = svc.Repack(ctx, bootRepackOutput, c, progress)
		done()
		if err != nil {
			return app.FromError("failed to repack boot image", err)
		}
		printf("%s %s\n", okColor("Wrote"), bootRepackOutput)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bootCmd)
	bootCmd.AddCommand(bootInfoCmd, bootUnpackCmd, bootRepackCmd)

	bootUnpackCmd.Flags().StringVarP(&bootUnpackDir, "dir", "d", "", "output directory (default <name>_unpacked)")
	bootUnpackCmd.Flags().BoolVar(&bootDecompressAll, "decompress-all", false, "decompress every supported ramdisk format, not only gzip")
	bootUnpackCmd.Flags().BoolVar(&bootExtractRamdisk, "extract-ramdisk", false, "extract the ramdisk archive into a directory")

	bootRepackCmd.Flags().StringVarP(&bootRepackOutput, "out", "O", "", "output image path (required)")
	bootRepackCmd.Flags().StringVar(&bootRepackCmdline, "cmdline", "", "replace the kernel command line")
	bootRepackCmd.Flags().StringVar(&bootRepackName, "name", "", "replace the board name")
	bootRepackCmd.Flags().StringVar(&bootRepackCompressor, "ramdisk-format", "", "compression for a decompressed or extracted ramdisk (gzip, lz4, lz4_legacy, xz, zstd, raw)")
	bootRepackCmd.MarkFlagRequired("out")
}
