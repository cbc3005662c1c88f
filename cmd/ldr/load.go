package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/carved4/go-ldr/pkg/loader"
	"github.com/carved4/go-ldr/pkg/pe"
)

func init() {
	rootCmd.AddCommand(newLoadCmd())
}

func newLoadCmd() *cobra.Command {
	var symbols []string
	var imports bool

	cmd := &cobra.Command{
		Use:   "load <library>",
		Short: "Load a library and its dependencies into this process",
		Long: `The load command maps a library by name or path, resolves its imports
recursively and runs the entry points, then tears everything down again.

Example:
  ldr load version.dll
  ldr load C:\tools\plugin.dll --symbol PluginInit
  ldr load version.dll --imports
  ldr load api-ms-win-core-file-l1-1-0.dll --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(args, symbols, imports)
		},
	}
	cmd.Flags().StringSliceVar(&symbols, "symbol", nil, "Export names to look up after loading")
	cmd.Flags().BoolVar(&imports, "imports", false, "List the symbols the mapped image imports")
	return cmd
}

type loadedLibrary struct {
	Path     string               `json:"path"`
	Base     string               `json:"base"`
	Status   string               `json:"status"`
	Resident bool                 `json:"resident"`
	Symbols  map[string]string    `json:"symbols,omitempty"`
	Imports  []pe.ImportedLibrary `json:"imports,omitempty"`
}

func describe(lib *loader.Library) loadedLibrary {
	return loadedLibrary{
		Path:     lib.Path(),
		Base:     fmt.Sprintf("%#x", lib.Base()),
		Status:   lib.Status().String(),
		Resident: lib.Resident(),
	}
}

func runLoad(args []string, symbols []string, imports bool) error {
	reg, err := newRegistry()
	if err != nil {
		return err
	}
	defer reg.Release()

	printVerbose("Loading %s\n", args[0])
	lib, err := load(reg, args[0])
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", args[0], err)
	}

	out := describe(lib)
	if len(symbols) > 0 {
		out.Symbols = make(map[string]string, len(symbols))
		for _, sym := range symbols {
			addr, ok := lib.ExportByName(sym)
			if !ok {
				out.Symbols[sym] = "unresolved"
				continue
			}
			out.Symbols[sym] = fmt.Sprintf("%#x", addr)
		}
	}

	if imports {
		if out.Imports, err = lib.Image().Imports(); err != nil {
			return fmt.Errorf("failed to list imports of %s: %w", out.Path, err)
		}
	}

	var all []loadedLibrary
	for _, l := range reg.Libraries() {
		all = append(all, describe(l))
	}

	if jsonOut {
		return printJSON(map[string]interface{}{"library": out, "loaded": all})
	}

	printInfo("\nLoaded %s at %s\n", out.Path, out.Base)
	for sym, addr := range out.Symbols {
		printInfo("  %s: %s\n", sym, addr)
	}
	for _, imp := range out.Imports {
		printInfo("  imports %s: %s\n", imp.Name, strings.Join(imp.Symbols, ", "))
	}
	printInfo("\nRegistry (%d):\n", len(all))
	for _, l := range all {
		printInfo("  %-8s %s  %s\n", l.Status, l.Base, l.Path)
	}
	return nil
}
