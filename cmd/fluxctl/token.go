package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/fluxio/internal/errors"
	"github.com/vango-dev/fluxio/pkg/fluxhttp"
)

func tokenCmd(g *globals) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for writes",
		Long: `Mint a token signed with server.tokenSecret.

Servers started with a token secret reject PUT and DELETE requests and
values sent on watch streams unless they carry such a token. Pass it to
the client commands with --token or FLUXCTL_TOKEN.`,
		Example: `  fluxctl token --subject deploy --ttl 24h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cfg.Server.TokenSecret == "" {
				return errors.New("F003").
					WithDetail("server.tokenSecret is not set").
					WithSuggestion("Set server.tokenSecret in the config or FLUXCTL_TOKEN_SECRET")
			}
			token, err := fluxhttp.NewToken([]byte(cfg.Server.TokenSecret), subject, ttl)
			if err != nil {
				return errors.New("F003").Wrap(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "u", "", "Subject recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: never expires)")

	return cmd
}
