package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-droidimg/internal/services"
	"github.com/deploymenttheory/go-droidimg/internal/types"
	"github.com/deploymenttheory/go-droidimg/pkg/app"
)

var (
	hexSearchText    bool
	hexSearchFold    bool
	hexReplaceText   bool
	hexPatchVerify   bool
	hexPatchRevert   bool
	hexChecksumAlgos []string
	hexDiffLimit     int
	hexEditSets      []string
	hexEditReplaces  []string
	hexEditPatchFile string
	hexEditOutput    string
	hexEditDryRun    bool
)

var hexCmd = &cobra.Command{
	Use:   "hex",
	Short: "Search, replace, patch, hash and compare binary files",
}

var hexSearchCmd = &cobra.Command{
	Use:   "search <file> <pattern>",
	Short: "Find every occurrence of a byte pattern",
	Long: heredoc.Doc(`
		The pattern is hex bytes where ?? matches any byte, for example
		"7F 45 4C 46" or "DE ?? BE EF". With --text the pattern is
		literal text and --ignore-case folds ASCII letters.`),
	Example: heredoc.Doc(`
		$ droidimg hex search boot.img "41 4E 44 52 4F 49 44 21"
		$ droidimg hex search --text -i system.img "androidboot"`),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		svc := services.NewSearchService(ctx.Config)

		progress, done := newProgressBar("search")
		var results []types.HexSearchResult
		var err error
		if hexSearchText {
			results, err = svc.SearchText(ctx, args[0], args[1], hexSearchFold, progress)
		} else {
			results, err = svc.SearchWildcard(ctx, args[0], args[1], progress)
		}
		done()
		if err != nil {
			return app.FromError("search failed", err)
		}
		if ok, err := writeStructured(results); ok {
			return err
		}
		for _, r := range results {
			printf("0x%08X  % X\n", r.Offset, r.Match)
		}
		printf("%d match(es)\n", len(results))
		return nil
	},
}

var hexReplaceCmd = &cobra.Command{
	Use:   "replace <file> <find> <replace>",
	Short: "Replace every occurrence of a byte sequence in place",
	Long:  "Equal length replacements are written in place. Other lengths rewrite the file atomically.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		find, replace, err := parseFindReplace(args[1], args[2], hexReplaceText)
		if err != nil {
			return err
		}

		progress, done := newProgressBar("replace")
		result, err := services.NewSearchService(ctx.Config).ReplaceAll(ctx, args[0], find, replace, progress)
		done()
		if err != nil {
			return app.FromError("replace failed", err)
		}
		if ok, err := writeStructured(result); ok {
			return err
		}
		printf("%s %d occurrence(s)", okColor("Replaced"), result.Count)
		if result.LengthChanged {
			printf(", file length changed")
		}
		printf("\n")
		return nil
	},
}

func parseFindReplace(find, replace string, text bool) ([]byte, []byte, error) {
	if text {
		return []byte(find), []byte(replace), nil
	}
	f, err := services.ParseHexBytes(find)
	if err != nil {
		return nil, nil, app.FromError("invalid search bytes", err)
	}
	r, err := services.ParseHexBytes(replace)
	if err != nil {
		return nil, nil, app.FromError("invalid replacement bytes", err)
	}
	return f, r, nil
}

var hexPatchCmd = &cobra.Command{
	Use:   "patch <file> <patch-list>",
	Short: "Apply, verify or revert a list of guarded patches",
	Long: heredoc.Doc(`
		Each line of the patch list is OFFSET:ORIGINAL:NEW[:DESCRIPTION]
		with a hex offset and hex bytes. A patch is only written when the
		file still holds ORIGINAL at OFFSET. Lines starting with # are
		ignored.`),
	Example: heredoc.Doc(`
		$ cat fixes.txt
		0x1F40:00:01:enable feature flag
		0x2000:DEADBEEF:CAFEBABE:swap marker
		$ droidimg hex patch --verify firmware.bin fixes.txt
		$ droidimg hex patch firmware.bin fixes.txt`),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		patches, err := services.ParsePatchFile(args[1])
		if err != nil {
			return app.FromError("invalid patch list", err)
		}
		svc := services.NewPatchService(ctx.Config)

		switch {
		case hexPatchVerify:
			for _, p := range patches {
				state, err := svc.VerifyPatch(args[0], p)
				if err != nil {
					return app.FromError("verify failed", err)
				}
				printf("0x%08X  %-16s %s\n", p.Offset, state, p.Description)
			}
			return nil
		case hexPatchRevert:
			for _, p := range patches {
				if err := svc.RevertPatch(args[0], p); err != nil {
					return app.FromError(fmt.Sprintf("revert of patch at 0x%X failed", p.Offset), err)
				}
			}
			printf("%s %d patch(es)\n", okColor("Reverted"), len(patches))
			return nil
		}

		report, err := svc.ApplyPatches(args[0], patches)
		if err != nil {
			return app.FromError("apply failed", err)
		}
		for _, f := range report.Failed {
			printf("%s 0x%08X %s: %v\n", warnColor("Refused"), f.Patch.Offset, f.Patch.Description, f.Err)
		}
		printf("%s %d of %d patch(es)\n", okColor("Applied"), len(report.Applied), len(patches))
		if len(report.Failed) > 0 {
			return app.NewError(app.ErrCodeMismatch, fmt.Sprintf("%d patch(es) refused", len(report.Failed)), nil)
		}
		return nil
	},
}

var hexChecksumCmd = &cobra.Command{
	Use:   "checksum <file>",
	Short: "Compute md5, sha1, sha256 or sha512 digests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		algos := make([]types.HashAlgorithm, 0, len(hexChecksumAlgos))
		for _, name := range hexChecksumAlgos {
			algo, err := types.ParseHashAlgorithm(name)
			if err != nil {
				return app.FromError("invalid algorithm", err)
			}
			algos = append(algos, algo)
		}

		progress, done := newProgressBar("hash")
		sums, err := services.NewChecksumService(ctx.Config).Checksums(ctx, args[0], algos, progress)
		done()
		if err != nil {
			return app.FromError("checksum failed", err)
		}
		if ok, err := writeStructured(sums); ok {
			return err
		}
		for _, algo := range algos {
			printf("%-7s %s  %s\n", algo, sums[algo], args[0])
		}
		return nil
	},
}

var hexCompareCmd = &cobra.Command{
	Use:   "compare <file-a> <file-b>",
	Short: "Report whether two files are identical",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		progress, done := newProgressBar("compare")
		equal, err := services.NewChecksumService(ctx.Config).CompareFiles(ctx, args[0], args[1], progress)
		done()
		if err != nil {
			return app.FromError("compare failed", err)
		}
		if equal {
			printf("%s\n", okColor("identical"))
			return nil
		}
		return app.NewError(app.ErrCodeMismatch, "files differ", nil)
	},
}

var hexDiffCmd = &cobra.Command{
	Use:   "diff <file-a> <file-b>",
	Short: "List differing byte offsets",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		progress, done := newProgressBar("diff")
		result, err := services.NewChecksumService(ctx.Config).FindDifferences(ctx, args[0], args[1], hexDiffLimit, progress)
		done()
		if err != nil {
			return app.FromError("diff failed", err)
		}
		if ok, err := writeStructured(result); ok {
			return err
		}
		for _, d := range result.Differences {
			printf("0x%08X  %02X %02X\n", d.Offset, d.A, d.B)
		}
		if result.Truncated {
			printf("%s more differences after the first %d\n", warnColor("..."), len(result.Differences))
		}
		if result.SizeA != result.SizeB {
			printf("sizes differ: %d vs %d bytes\n", result.SizeA, result.SizeB)
		}
		return nil
	},
}

var hexEditCmd = &cobra.Command{
	Use:   "edit <file>",
	Short: "Apply a batch of edits in memory and save them atomically",
	Long: heredoc.Doc(`
		Loads the file, applies every --set, --replace and --patch-file edit
		in order and writes the result once. If any edit fails nothing is
		written.`),
	Example: heredoc.Doc(`
		$ droidimg hex edit boot.img --set 0x40:00 --replace "73 65 6C 69 6E 75 78:53 45 4C 49 4E 55 58"
		$ droidimg hex edit firmware.bin --patch-file fixes.txt -O patched.bin`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		session := services.NewHexSession(ctx.Config)
		if err := session.Load(args[0]); err != nil {
			return app.FromError("failed to load file", err)
		}
		defer session.Reset()

		for _, set := range hexEditSets {
			off, data, err := parseOffsetBytes(set)
			if err != nil {
				return app.NewError(app.ErrCodeInvalidInput, "invalid --set", err)
			}
			if err := session.Write(off, data); err != nil {
				return app.FromError("write failed", err)
			}
		}
		for _, rep := range hexEditReplaces {
			parts := strings.SplitN(rep, ":", 2)
			if len(parts) != 2 {
				return app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("want FIND:REPLACE, got %q", rep), nil)
			}
			find, replace, err := parseFindReplace(parts[0], parts[1], false)
			if err != nil {
				return err
			}
			result, err := session.ReplaceAll(find, replace)
			if err != nil {
				return app.FromError("replace failed", err)
			}
			printf("replaced %d occurrence(s) of % X\n", result.Count, find)
		}
		if hexEditPatchFile != "" {
			patches, err := services.ParsePatchFile(hexEditPatchFile)
			if err != nil {
				return app.FromError("invalid patch list", err)
			}
			for _, p := range patches {
				if err := session.ApplyPatch(p); err != nil {
					return app.FromError(fmt.Sprintf("patch at 0x%X refused", p.Offset), err)
				}
			}
		}

		if !session.Dirty() {
			printf("no changes\n")
			return nil
		}
		if hexEditDryRun {
			printf("%d edit(s) not saved (dry run)\n", len(session.Edits()))
			return nil
		}
		out := hexEditOutput
		if out == "" {
			out = session.Path()
		}
		if err := session.SaveAs(out); err != nil {
			return app.FromError("save failed", err)
		}
		printf("%s %s\n", okColor("Saved"), out)
		return nil
	},
}

// parseOffsetBytes reads OFFSET:HEX
func parseOffsetBytes(s string) (int64, []byte, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("want OFFSET:HEX, got %q", s)
	}
	offText := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(parts[0]), "0x"), "0X")
	off, err := strconv.ParseInt(offText, 16, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid offset %q", parts[0])
	}
	data, err := services.ParseHexBytes(parts[1])
	if err != nil {
		return 0, nil, err
	}
	return off, data, nil
}

func init() {
	rootCmd.AddCommand(hexCmd)
	hexCmd.AddCommand(hexSearchCmd, hexReplaceCmd, hexPatchCmd, hexChecksumCmd, hexCompareCmd, hexDiffCmd, hexEditCmd)

	hexSearchCmd.Flags().BoolVar(&hexSearchText, "text", false, "treat the pattern as text")
	hexSearchCmd.Flags().BoolVarP(&hexSearchFold, "ignore-case", "i", false, "ASCII case-insensitive text search")

	hexReplaceCmd.Flags().BoolVar(&hexReplaceText, "text", false, "treat find and replace as text")

	hexPatchCmd.Flags().BoolVar(&hexPatchVerify, "verify", false, "only report the state of each patch")
	hexPatchCmd.Flags().BoolVar(&hexPatchRevert, "revert", false, "restore the original bytes")
	hexPatchCmd.MarkFlagsMutuallyExclusive("verify", "revert")

	hexChecksumCmd.Flags().StringSliceVarP(&hexChecksumAlgos, "algo", "a", []string{"sha256"}, "digest algorithms (md5, sha1, sha256, sha512)")

	hexDiffCmd.Flags().IntVar(&hexDiffLimit, "limit", 100, "maximum differences to list")

	hexEditCmd.Flags().StringArrayVar(&hexEditSets, "set", nil, "write HEX at OFFSET, as OFFSET:HEX (repeatable)")
	hexEditCmd.Flags().StringArrayVar(&hexEditReplaces, "replace", nil, "replace every FIND with REPLACE, as hex FIND:REPLACE (repeatable)")
	hexEditCmd.Flags().StringVar(&hexEditPatchFile, "patch-file", "", "apply a guarded patch list")
	hexEditCmd.Flags().StringVarP(&hexEditOutput, "out", "O", "", "save to this path instead of overwriting")
	hexEditCmd.Flags().BoolVar(&hexEditDryRun, "dry-run", false, "apply edits without saving")
}
