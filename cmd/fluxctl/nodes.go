package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/fluxio/internal/errors"
	"github.com/vango-dev/fluxio/pkg/fluxhttp"
	"github.com/vango-dev/fluxio/pkg/fluxpath"
)

func getCmd(g *globals) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value of a key",
		Long: `Print the value of a key as indented JSON.

Examples:
  fluxctl get theme
  fluxctl get user --path '$.address.city'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			f, err := c.get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printFrame(cmd.OutOrStdout(), f, path)
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "JSONPath expression applied to the value")

	return cmd
}

func setCmd(g *globals) *cobra.Command {
	var asString bool

	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set the value of a key",
		Long: `Set the value of a key. VALUE is parsed as JSON; anything that is not
valid JSON is stored as a string.

Examples:
  fluxctl set theme dark
  fluxctl set volume 7
  fluxctl set user '{"name": "ada"}'
  fluxctl set code 007 --string`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			value := parseValue(args[1], asString)
			f, err := c.put(cmd.Context(), args[0], value)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "%s = %s", args[0], f.Value)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asString, "string", false, "Store VALUE as a string without parsing it")

	return cmd
}

func rmCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "rm KEY",
		Aliases: []string{"delete"},
		Short:   "Delete a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if err := c.delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "deleted %s", args[0])
			return nil
		},
	}
}

func keysCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List opened and stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			keys, err := c.keys(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func watchCmd(g *globals) *cobra.Command {
	var (
		count  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "watch KEY",
		Short: "Print every change of a key",
		Long: `Print the current value of a key, then every change, until interrupted.

Examples:
  fluxctl watch theme
  fluxctl watch theme --count 3
  fluxctl watch theme --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := cmd.OutOrStdout()
			seen := 0
			return c.watch(ctx, args[0], func(f fluxhttp.Frame) bool {
				if asJSON {
					data, _ := json.Marshal(f)
					fmt.Fprintln(w, string(data))
				} else if f.Error != "" {
					fmt.Fprintf(w, "%s ! %s\n", f.Key, f.Error)
				} else {
					fmt.Fprintf(w, "%s = %s\n", f.Key, f.Value)
				}
				seen++
				return count <= 0 || seen < count
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many frames")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw frames")

	return cmd
}

// parseValue returns arg as JSON, quoting it when it is not valid JSON.
func parseValue(arg string, asString bool) []byte {
	if !asString && json.Valid([]byte(arg)) {
		return []byte(arg)
	}
	data, _ := json.Marshal(arg)
	return data
}

func printFrame(w io.Writer, f fluxhttp.Frame, path string) error {
	var v any
	if len(f.Value) > 0 {
		if err := json.Unmarshal(f.Value, &v); err != nil {
			return errors.New("F021").Wrap(err)
		}
	}
	if path != "" {
		expr, err := fluxpath.Compile(path)
		if err != nil {
			return errors.New("F042").WithDetailf("%q", path).Wrap(err)
		}
		v = expr.First(v)
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.New("F021").Wrap(err)
	}
	fmt.Fprintln(w, string(out))
	if f.Error != "" {
		fmt.Fprintf(w, "error: %s\n", f.Error)
	}
	return nil
}
