// Command revtun-client runs behind NAT/firewalls: it dials a revtun
// server, registers its configured tunnels, and serves each NewConnection
// it is handed by dialing the matching local TCP service.
package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tunnelcraft/revtun/internal/client"
	"github.com/tunnelcraft/revtun/internal/protocol"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	var (
		serverURL string
		name      string
		token     string
		tunnelArg []string
	)

	rootCmd := &cobra.Command{
		Use:     "revtun-client",
		Short:   "Reverse TCP tunnel client",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			tunnels := make([]protocol.TunnelConfig, 0, len(tunnelArg))
			for _, spec := range tunnelArg {
				cfg, err := protocol.ParseTunnelConfig(spec)
				if err != nil {
					return fmt.Errorf("invalid -t %q: %w", spec, err)
				}
				tunnels = append(tunnels, cfg)
			}

			wsURL, err := toWebsocketURL(serverURL)
			if err != nil {
				return err
			}

			hostname, _ := os.Hostname()
			c := client.New(client.Config{
				ServerURL: wsURL,
				Token:     token,
				Name:      name,
				Version:   Version,
				OS:        runtime.GOOS,
				Arch:      runtime.GOARCH,
				Hostname:  hostname,
				LocalIP:   localIP(),
				Tunnels:   tunnels,
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			c.Run(ctx)
			return nil
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&serverURL, "server", "s", "", "revtun server address (host:port or ws(s)://...)")
	flags.StringVarP(&name, "name", "n", "", "operator-chosen client name (evicts any prior client of the same name)")
	flags.StringVar(&token, "token", "", "optional shared token")
	flags.StringArrayVarP(&tunnelArg, "tunnel", "t", nil, "tunnel spec, e.g. tcp:22:10022 or tcp:127.0.0.1:22:10022 (repeatable)")
	rootCmd.MarkFlagRequired("server")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// toWebsocketURL accepts either a bare host:port or a full ws(s):// URL. A
// ws(s):// URL is returned unchanged; a bare host:port becomes
// ws://host:port/tunnel, the control endpoint.
func toWebsocketURL(s string) (string, error) {
	if u, err := url.Parse(s); err == nil && (u.Scheme == "ws" || u.Scheme == "wss") {
		return s, nil
	}
	u := &url.URL{Scheme: "ws", Host: s, Path: "/tunnel"}
	return u.String(), nil
}

// localIP best-effort discovers the client's outbound-facing address; it
// never needs to actually reach the destination since UDP dial doesn't
// send packets.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
