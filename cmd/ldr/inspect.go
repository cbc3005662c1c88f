package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carved4/go-ldr/pkg/pe"
)

func init() {
	rootCmd.AddCommand(newInspectCmd())
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Describe an image on disk without mapping it",
		Long: `The inspect command parses a PE file and lists its sections, imported
libraries and exports. Nothing is mapped or executed.

Example:
  ldr inspect C:\Windows\System32\version.dll
  ldr inspect plugin.dll --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args)
		},
	}
	return cmd
}

func runInspect(args []string) error {
	report, err := pe.Inspect(args[0])
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", args[0], err)
	}

	if jsonOut {
		return printJSON(report)
	}

	printInfo("\nImage: %s\n", report.Path)
	printInfo("  Machine: %#x\n", report.Machine)
	printInfo("  DLL: %v\n", report.DLL)

	printInfo("\nSections (%d):\n", len(report.Sections))
	for _, s := range report.Sections {
		printInfo("  %-8s rva %#08x size %#x\n", s.Name, s.VirtualAddress, s.VirtualSize)
	}

	printInfo("\nImports (%d):\n", len(report.Imports))
	for _, imp := range report.Imports {
		printInfo("  %s\n", imp)
	}

	printInfo("\nExports (%d):\n", len(report.Exports))
	for _, e := range report.Exports {
		printVerbose("  %5d  %#08x  %s\n", e.Ordinal, e.RVA, e.Name)
	}
	if !verbose {
		printInfo("  (use --verbose to list them)\n")
	}
	return nil
}
