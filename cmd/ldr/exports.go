package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newExportsCmd())
}

func newExportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exports <library>",
		Short: "Load a library and list its resolved exports",
		Long: `The exports command loads a library and prints every export with its
ordinal and mapped address. Forwarded exports show their target.

Example:
  ldr exports kernel32.dll
  ldr exports ./build/plugin.dll --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExports(args)
		},
	}
	return cmd
}

type exportLine struct {
	Name      string `json:"name,omitempty"`
	Ordinal   uint16 `json:"ordinal"`
	Address   string `json:"address,omitempty"`
	Forwarder string `json:"forwarder,omitempty"`
}

func runExports(args []string) error {
	reg, err := newRegistry()
	if err != nil {
		return err
	}
	defer reg.Release()

	lib, err := load(reg, args[0])
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", args[0], err)
	}

	exports := lib.Exports()
	lines := make([]exportLine, 0, len(exports))
	for _, e := range exports {
		line := exportLine{Name: e.Name, Ordinal: e.Ordinal, Forwarder: e.Forwarder}
		if e.Address != 0 {
			line.Address = fmt.Sprintf("%#x", e.Address)
		}
		lines = append(lines, line)
	}

	if jsonOut {
		return printJSON(lines)
	}

	printInfo("\n%s (%d exports):\n", lib.Path(), len(lines))
	for _, l := range lines {
		target := l.Address
		if l.Forwarder != "" {
			target = "-> " + l.Forwarder
		}
		name := l.Name
		if name == "" {
			name = "(ordinal only)"
		}
		printInfo("  %5d  %-18s %s\n", l.Ordinal, target, name)
	}
	return nil
}
