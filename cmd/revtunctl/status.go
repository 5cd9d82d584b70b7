package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server-wide client and tunnel counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := apiRequest("GET", "/status", nil)
			if err != nil {
				return err
			}

			var status struct {
				Clients int `json:"clients"`
				Tunnels int `json:"tunnels"`
			}
			if err := json.Unmarshal(env.Data, &status); err != nil {
				return err
			}

			fmt.Printf("Clients: %d\n", status.Clients)
			fmt.Printf("Tunnels: %d\n", status.Tunnels)
			return nil
		},
	}
}
