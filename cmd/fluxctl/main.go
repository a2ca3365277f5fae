// Command fluxctl serves and edits persisted flux nodes.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vango-dev/fluxio/internal/config"
	"github.com/vango-dev/fluxio/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	server     string
	token      string
	noColor    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.Print(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "fluxctl",
		Short: "Serve and edit persisted reactive values",
		Long: `fluxctl runs a fluxio server over a configured store and talks to it.

The server exposes every stored key as a node that can be read, set,
deleted and watched. Derived nodes (JSONPath selections and Lua scripts)
are declared in fluxctl.json or fluxctl.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.noColor || !term.IsTerminal(int(os.Stderr.Fd())) {
				errors.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default: fluxctl.json or fluxctl.yaml in the working directory)")
	rootCmd.PersistentFlags().StringVar(&g.server, "server", "", "Server URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&g.token, "token", "", "Bearer token for writes (default: $FLUXCTL_TOKEN or server.token)")
	rootCmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored errors")

	rootCmd.AddCommand(
		serveCmd(g),
		getCmd(g),
		setCmd(g),
		rmCmd(g),
		keysCmd(g),
		watchCmd(g),
		tokenCmd(g),
		versionCmd(),
	)
	return rootCmd
}

// load reads the config named by --config, or the default one.
func (g *globals) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// client builds a client for --server, falling back to the config.
func (g *globals) client() (*client, error) {
	token := g.token
	if token == "" {
		token = os.Getenv("FLUXCTL_TOKEN")
	}
	if g.server != "" {
		return newClient(g.server, token), nil
	}
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	if token == "" {
		token = cfg.Server.Token
	}
	return newClient(cfg.Server.URL, token), nil
}

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}
