package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-droidimg/internal/parsers/gpt"
	"github.com/deploymenttheory/go-droidimg/internal/services"
	"github.com/deploymenttheory/go-droidimg/internal/types"
	"github.com/deploymenttheory/go-droidimg/pkg/app"
)

var (
	gptExtractOut  string
	gptExtractDir  string
	gptCreateSize  string
	gptCreateParts []string
)

var gptCmd = &cobra.Command{
	Use:   "gpt",
	Short: "List, extract and create GPT disk images",
}

var gptListCmd = &cobra.Command{
	Use:   "list <disk.img>",
	Short: "List the partition table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		table, err := services.NewGPTService(ctx.Config).ReadTable(args[0])
		if err != nil {
			return app.FromError("failed to read partition table", err)
		}
		if ok, err := writeStructured(table); ok {
			return err
		}

		printf("%s %s\n", headingColor("Disk GUID"), table.Header.DiskGUID)
		if !table.HeaderCRCValid || !table.EntriesCRCValid {
			printf("%s table CRC32 mismatch (header ok: %t, entries ok: %t)\n", warnColor("Warning:"), table.HeaderCRCValid, table.EntriesCRCValid)
		}
		w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "#\tNAME\tTYPE\tFIRST\tLAST\tSIZE\n")
		for _, p := range table.Partitions {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n", p.Index+1, p.Name, gpt.TypeLabel(p.TypeGUID), p.FirstLBA, p.LastLBA, humanize.IBytes(p.SizeBytes()))
		}
		return w.Flush()
	},
}

var gptExtractCmd = &cobra.Command{
	Use:   "extract <disk.img> <partition>",
	Short: "Copy one partition out of a disk image",
	Example: heredoc.Doc(`
		$ droidimg gpt extract disk.img boot_a -O boot_a.img`),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		out := gptExtractOut
		if out == "" {
			out = args[1] + ".img"
		}

		progress, done := newProgressBar(args[1])
		n, err := services.NewGPTService(ctx.Config).ExtractPartition(ctx, args[0], args[1], out, progress)
		done()
		if err != nil {
			return app.FromError("failed to extract partition", err)
		}
		printf("%s %s (%s) -> %s\n", okColor("Extracted"), args[1], humanize.IBytes(uint64(n)), out)
		return nil
	},
}

var gptExtractAllCmd = &cobra.Command{
	Use:   "extract-all <disk.img>",
	Short: "Copy every partition into a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		progress, done := newProgressBar("extract")
		written, err := services.NewGPTService(ctx.Config).ExtractAll(ctx, args[0], gptExtractDir, progress)
		done()
		if err != nil {
			return app.FromError("failed to extract partitions", err)
		}
		if ok, err := writeStructured(written); ok {
			return err
		}
		for _, p := range written {
			printf("  %-24s %10s  %s\n", p.Name, humanize.IBytes(uint64(p.Bytes)), p.Path)
		}
		printf("%s %d partitions into %s\n", okColor("Extracted"), len(written), gptExtractDir)
		return nil
	},
}

var gptCreateCmd = &cobra.Command{
	Use:   "create <disk.img>",
	Short: "Create a GPT disk image",
	Long: heredoc.Doc(`
		Create a sparse file holding a protective MBR, primary and backup GPT
		headers and the requested partitions.

		Each --part is NAME:SIZE[:TYPE]. SIZE accepts units (512M, 1GiB) and
		0 gives the last partition the remaining space. TYPE is a GUID or a
		known label such as boot, system, vendor, data or linux.`),
	Example: heredoc.Doc(`
		$ droidimg gpt create disk.img --size 64M \
		    --part boot:8M:boot --part system:32M:system --part userdata:0:data`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		size, err := humanize.ParseBytes(gptCreateSize)
		if err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "invalid disk size", err)
		}
		specs, err := parsePartitionSpecs(gptCreateParts)
		if err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "invalid partition list", err)
		}

		table, err := services.NewGPTService(ctx.Config).CreateImage(ctx, args[0], int64(size), specs)
		if err != nil {
			return app.FromError("failed to create disk image", err)
		}
		printf("%s %s (%s, %d partitions)\n", okColor("Created"), args[0], humanize.IBytes(size), len(table.Partitions))
		return nil
	},
}

// parsePartitionSpecs reads NAME:SIZE[:TYPE] values
func parsePartitionSpecs(values []string) ([]types.PartitionSpec, error) {
	specs := make([]types.PartitionSpec, 0, len(values))
	for _, v := range values {
		fields := strings.Split(v, ":")
		if len(fields) < 2 || len(fields) > 3 || fields[0] == "" {
			return nil, fmt.Errorf("want NAME:SIZE[:TYPE], got %q", v)
		}
		spec := types.PartitionSpec{Name: fields[0]}
		if fields[1] != "0" {
			size, err := humanize.ParseBytes(fields[1])
			if err != nil {
				return nil, fmt.Errorf("partition %s: %w", fields[0], err)
			}
			spec.Size = size
		}
		if len(fields) == 3 {
			typeGUID, err := gpt.ParseTypeGUID(fields[2])
			if err != nil {
				return nil, err
			}
			spec.TypeGUID = typeGUID
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

var gptUsageCmd = &cobra.Command{
	Use:   "usage <disk.img>",
	Short: "Estimate used space per partition from trailing fill bytes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		usage, err := services.NewGPTService(ctx.Config).AnalyzeUsage(ctx, args[0])
		if err != nil {
			return app.FromError("failed to analyse partitions", err)
		}
		if ok, err := writeStructured(usage); ok {
			return err
		}

		w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "NAME\tSIZE\tUSED\tSLACK\tFILL\n")
		for _, u := range usage {
			used := humanize.IBytes(u.UsedBytes)
			if u.Empty {
				used = "empty"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t0x%02X\n", u.Name, humanize.IBytes(u.Size), used, humanize.IBytes(u.SlackBytes), u.FillByte)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(gptCmd)
	gptCmd.AddCommand(gptListCmd, gptExtractCmd, gptExtractAllCmd, gptCreateCmd, gptUsageCmd)

	gptExtractCmd.Flags().StringVarP(&gptExtractOut, "out", "O", "", "output file (default <partition>.img)")
	gptExtractAllCmd.Flags().StringVarP(&gptExtractDir, "dir", "d", "partitions", "output directory")
	gptCreateCmd.Flags().StringVar(&gptCreateSize, "size", "", "disk size, e.g. 64M or 8GiB (required)")
	gptCreateCmd.Flags().StringArrayVar(&gptCreateParts, "part", nil, "partition NAME:SIZE[:TYPE], repeatable")
	gptCreateCmd.MarkFlagRequired("size")
}
