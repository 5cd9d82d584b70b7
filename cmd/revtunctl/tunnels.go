package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tunnelcraft/revtun/internal/protocol"
)

func newTunnelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tunnels",
		Short: "List, add, and remove tunnels",
	}
	cmd.AddCommand(newTunnelsListCmd(), newTunnelsAddCmd(), newTunnelsRemoveCmd())
	return cmd
}

func newTunnelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live tunnels",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := apiRequest("GET", "/api/tunnels", nil)
			if err != nil {
				return err
			}

			var tunnels []protocol.TunnelInfo
			if err := json.Unmarshal(env.Data, &tunnels); err != nil {
				return err
			}

			if len(tunnels) == 0 {
				fmt.Println("No live tunnels.")
				return nil
			}

			fmt.Printf("Tunnels (%d):\n\n", len(tunnels))
			fmt.Println("  ID                                    CLIENT   SERVER:LOCAL            SENT/RECV")
			fmt.Println("  ─────────────────────────────────────────────────────────────────────────────────")
			for _, t := range tunnels {
				fmt.Printf("  %-38s %-8s :%-5d -> %s:%-5d %d/%d\n",
					t.ID, t.ClientID, t.ServerPort, t.LocalAddr, t.LocalPort, t.BytesSent, t.BytesRecv)
			}
			return nil
		},
	}
}

func newTunnelsAddCmd() *cobra.Command {
	var tunnelType, localAddr, name string
	var localPort, serverPort uint16

	cmd := &cobra.Command{
		Use:   "add <client-id>",
		Short: "Push a new tunnel to an already-registered client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"tunnel_type": tunnelType,
				"local_addr":  localAddr,
				"local_port":  localPort,
				"server_port": serverPort,
				"name":        name,
			}

			env, err := apiRequest("POST", "/api/clients/"+args[0]+"/tunnels", body)
			if err != nil {
				return err
			}

			var tunnel protocol.TunnelInfo
			if err := json.Unmarshal(env.Data, &tunnel); err != nil {
				return err
			}

			fmt.Printf("Created tunnel %s: :%d -> %s:%d\n", tunnel.ID, tunnel.ServerPort, tunnel.LocalAddr, tunnel.LocalPort)
			return nil
		},
	}

	cmd.Flags().StringVar(&tunnelType, "type", "tcp", "tunnel type (tcp or udp)")
	cmd.Flags().StringVar(&localAddr, "local-addr", "127.0.0.1", "local address on the client")
	cmd.Flags().Uint16Var(&localPort, "local-port", 0, "local port on the client")
	cmd.Flags().Uint16Var(&serverPort, "server-port", 0, "requested public port (0 lets the server pick)")
	cmd.Flags().StringVar(&name, "name", "", "optional tunnel name")
	cmd.MarkFlagRequired("local-port")

	return cmd
}

func newTunnelsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <tunnel-id>",
		Short: "Close a tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := apiRequest("DELETE", "/api/tunnels/"+args[0], nil); err != nil {
				return err
			}
			fmt.Printf("Closed tunnel %s\n", args[0])
			return nil
		},
	}
}
