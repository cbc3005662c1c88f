package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carved4/go-ldr/pkg/apiset"
	"github.com/carved4/go-ldr/pkg/loader"
	"github.com/carved4/go-ldr/pkg/obf"
	"github.com/carved4/go-ldr/pkg/pe"
)

var (
	// Global flags
	verbose     bool
	quiet       bool
	jsonOut     bool
	searchPaths []string
	resident    bool

	// imageOptions apply to every image a command maps
	imageOptions []pe.Option
)

var rootCmd = &cobra.Command{
	Use:   "ldr",
	Short: "Map Windows libraries into this process without the OS loader",
	Long: `ldr reads 64-bit PE libraries, maps and relocates them, resolves their
imports through its own registry and API-Set resolver, and runs their entry
points. It can also inspect images statically and resolve API-Set names.`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringSliceVarP(&searchPaths, "search", "s", nil, "Library search directories, in order")
	rootCmd.PersistentFlags().
		BoolVar(&resident, "resident", false, "Adopt libraries the OS loader has already mapped")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging() {
	if !verbose {
		return
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		printError("logger: %v\n", err)
		return
	}
	loader.SetLogger(l)
	pe.SetLogger(l)
	apiset.SetLogger(l)
	obf.SetLogger(l)
}

// newRegistry builds and initializes a registry from the global flags.
func newRegistry() (*loader.Registry, error) {
	opts := []loader.Option{
		loader.WithLogger(loader.Logger()),
		loader.WithPreferResident(resident),
		loader.WithImageOptions(imageOptions...),
	}
	if len(searchPaths) > 0 {
		opts = append(opts, loader.WithSearchPaths(searchPaths...))
	}
	reg := loader.New(opts...)
	if err := reg.Init(); err != nil {
		return nil, err
	}
	return reg, nil
}

// load treats arguments containing a path separator as paths and
// everything else as library names.
func load(reg *loader.Registry, target string) (*loader.Library, error) {
	if strings.ContainsAny(target, `\/`) {
		return reg.LoadByPath(target)
	}
	return reg.LoadByName(target)
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
