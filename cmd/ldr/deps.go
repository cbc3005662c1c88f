package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carved4/go-ldr/pkg/loader"
)

func init() {
	rootCmd.AddCommand(newDepsCmd())
}

func newDepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps <library>",
		Short: "List the import closure of a library",
		Long: `The deps command walks the imports of a library breadth-first, resolving
API-Set names and search paths the way load would, without mapping anything.

Example:
  ldr deps version.dll
  ldr deps plugin.dll --search ./build --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(args)
		},
	}
	return cmd
}

func runDeps(args []string) error {
	opts := []loader.Option{loader.WithLogger(loader.Logger())}
	if len(searchPaths) > 0 {
		opts = append(opts, loader.WithSearchPaths(searchPaths...))
	}

	deps, err := loader.New(opts...).Dependencies(args[0])
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", args[0], err)
	}

	if jsonOut {
		return printJSON(deps)
	}

	for _, d := range deps {
		where := d.Path
		if where == "" {
			where = "(not found)"
		}
		printInfo("%s  %s\n", d.Name, where)
		for _, imp := range d.Imports {
			printVerbose("    imports %s\n", imp)
		}
	}
	return nil
}
