package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var (
	headingColor = color.New(color.FgCyan, color.Bold).SprintFunc()
	okColor      = color.New(color.FgGreen).SprintFunc()
	warnColor    = color.New(color.FgYellow).SprintFunc()
)

// stdout is swapped in tests
var stdout io.Writer = os.Stdout

// writeStructured emits v as json or yaml and reports whether it did.
// Table output is left to the caller.
func writeStructured(v interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		return true, encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(stdout)
		defer encoder.Close()
		encoder.SetIndent(2)
		return true, encoder.Encode(v)
	}
	return false, nil
}

func printf(format string, a ...interface{}) {
	if !quiet {
		fmt.Fprintf(stdout, format, a...)
	}
}
