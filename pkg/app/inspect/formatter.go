package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// FormatOutput writes inspection results in the requested format
func FormatOutput(w io.Writer, response *Response, format string) error {
	switch format {
	case "json":
		return formatJSON(w, response)
	case "yaml":
		return formatYAML(w, response)
	case "table":
		return formatTable(w, response)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func formatTable(w io.Writer, response *Response) error {
	fmt.Fprintf(w, "File:  %s\n", response.Path)
	fmt.Fprintf(w, "Size:  %s (%d bytes)\n", humanize.IBytes(uint64(response.Size)), response.Size)
	fmt.Fprintf(w, "Type:  %s\n", response.Type)
	fmt.Fprintf(w, "About: %s\n\n", response.Description)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "START\tEND\tSIZE\tTYPE\tDESCRIPTION\n")
	fmt.Fprintf(tw, "-----\t---\t----\t----\t-----------\n")
	for _, r := range response.Regions {
		desc := r.Description
		if r.Speculative {
			desc += " *"
		}
		fmt.Fprintf(tw, "0x%08X\t0x%08X\t%s\t%s\t%s\n", r.Start, r.End, humanize.IBytes(uint64(r.Size())), r.Type, desc)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if response.Truncated {
		fmt.Fprintf(w, "(showing first %d regions)\n", len(response.Regions))
	}
	if n := response.SpeculativeCount(); n > 0 {
		fmt.Fprintf(w, "* %d region(s) inferred from layout, not read\n", n)
	}

	if fs := response.Filesystem; fs != nil {
		fmt.Fprintf(w, "\nFilesystem: %s", fs.Type)
		if fs.Container != "" {
			fmt.Fprintf(w, " (inside %s)", fs.Container)
		}
		fmt.Fprintf(w, "\n  Volume:     %s\n", fs.VolumeName)
		fmt.Fprintf(w, "  UUID:       %s\n", fs.UUID)
		fmt.Fprintf(w, "  Block size: %d\n", fs.BlockSize)
		fmt.Fprintf(w, "  Blocks:     %d\n", fs.BlockCount)
		fmt.Fprintf(w, "  Size:       %s\n", humanize.IBytes(fs.TotalSize))
	}

	if len(response.Partitions) > 0 {
		fmt.Fprintln(w)
		pw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(pw, "#\tNAME\tTYPE\tFIRST\tLAST\tSIZE\n")
		for _, p := range response.Partitions {
			fmt.Fprintf(pw, "%d\t%s\t%s\t%d\t%d\t%s\n", p.Index+1, p.Name, p.Type, p.FirstLBA, p.LastLBA, humanize.IBytes(p.Size))
		}
		if err := pw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func formatJSON(w io.Writer, response *Response) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

func formatYAML(w io.Writer, response *Response) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(response)
}

// FormatSummary provides a one-line summary for verbose output
func FormatSummary(response *Response) string {
	summary := fmt.Sprintf("%s, %s, %d region", response.Type, humanize.IBytes(uint64(response.Size)), len(response.Regions))
	if len(response.Regions) != 1 {
		summary += "s"
	}
	if response.Truncated {
		summary += " (truncated)"
	}
	return summary + fmt.Sprintf(" in %v", response.ElapsedTime)
}
