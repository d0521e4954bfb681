package main

import (
	"github.com/spf13/cobra"

	"github.com/isWangjianhua/GenPulse/pkg/client"
	"github.com/isWangjianhua/GenPulse/pkg/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the gateway as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []client.Option
			if token := a.v.GetString("token"); token != "" {
				opts = append(opts, client.WithToken(token))
			}
			return mcp.NewServer(a.endpoint(), opts...).Serve()
		},
	}
}
