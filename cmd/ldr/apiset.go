package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carved4/go-ldr/pkg/apiset"
)

func init() {
	rootCmd.AddCommand(newApiSetCmd())
}

func newApiSetCmd() *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "apiset <name>...",
		Short: "Resolve API-Set names to their host libraries",
		Long: `The apiset command resolves virtual library names through the API-Set
namespace of this process, or through a namespace dumped to a file.

Example:
  ldr apiset api-ms-win-core-file-l1-1-0.dll
  ldr apiset ext-ms-win-gdi-draw-l1-1-0.dll --namespace apiset.bin`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApiSet(args, namespace)
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "Read the namespace from a file")
	return cmd
}

type apiSetLine struct {
	Name  string `json:"name"`
	Host  string `json:"host,omitempty"`
	Error string `json:"error,omitempty"`
}

func runApiSet(args []string, namespace string) error {
	loc := apiset.ProcessLocator()
	if namespace != "" {
		data, err := os.ReadFile(namespace)
		if err != nil {
			return fmt.Errorf("failed to read namespace: %w", err)
		}
		loc = apiset.Static(data)
	}

	if ns, err := loc.Namespace(); err == nil {
		if v, err := apiset.Version(ns); err == nil {
			printVerbose("Namespace schema version %d, %d bytes\n", v, len(ns))
		}
	}

	r := apiset.NewResolver(loc)
	lines := make([]apiSetLine, 0, len(args))
	for _, name := range args {
		line := apiSetLine{Name: name}
		if host, err := r.Resolve(name); err != nil {
			line.Error = err.Error()
		} else {
			line.Host = host
		}
		lines = append(lines, line)
	}

	if jsonOut {
		return printJSON(lines)
	}
	for _, l := range lines {
		if l.Error != "" {
			printError("%s: %s\n", l.Name, l.Error)
			continue
		}
		printInfo("%s -> %s\n", l.Name, l.Host)
	}
	return nil
}
