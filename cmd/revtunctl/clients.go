package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tunnelcraft/revtun/internal/protocol"
)

func newClientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List and manage registered clients",
	}
	cmd.AddCommand(newClientsListCmd(), newClientsRemoveCmd())
	return cmd
}

func newClientsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := apiRequest("GET", "/api/clients", nil)
			if err != nil {
				return err
			}

			var clients []protocol.ClientInfo
			if err := json.Unmarshal(env.Data, &clients); err != nil {
				return err
			}

			if len(clients) == 0 {
				fmt.Println("No registered clients.")
				return nil
			}

			fmt.Printf("Clients (%d):\n\n", len(clients))
			fmt.Println("  ID        NAME            OS/ARCH        HOSTNAME")
			fmt.Println("  ───────────────────────────────────────────────────")
			for _, c := range clients {
				fmt.Printf("  %-9s %-15s %-14s %s\n", c.ID, c.Name, c.OS+"/"+c.Arch, c.Hostname)
			}
			return nil
		},
	}
}

func newClientsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <client-id>",
		Short: "Disconnect a client and cascade-close its tunnels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := apiRequest("DELETE", "/api/clients/"+args[0], nil); err != nil {
				return err
			}
			fmt.Printf("Removed client %s\n", args[0])
			return nil
		},
	}
}
