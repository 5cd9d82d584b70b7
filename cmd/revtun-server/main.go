// Command revtun-server is the public-reachable reverse tunnel server: it
// accepts persistent client control connections and multiplexes external
// TCP traffic through them to client-side services.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/tunnelcraft/revtun/internal/server"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	var cfg server.Config

	rootCmd := &cobra.Command{
		Use:     "revtun-server",
		Short:   "Reverse TCP tunnel server",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Printf("revtun-server %s (commit: %s)", Version, Commit)
			return server.New(cfg).Run()
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "address to bind listeners on")
	flags.IntVar(&cfg.PlaintextPort, "port", 8080, "plaintext admin/control port (0 to disable)")
	flags.IntVar(&cfg.TLSPort, "tls-port", 0, "TLS admin/control port (0 to disable)")
	flags.StringVar(&cfg.TLSCertFile, "tls-cert", "", "static TLS certificate file")
	flags.StringVar(&cfg.TLSKeyFile, "tls-key", "", "static TLS key file")
	flags.StringVar(&cfg.AutocertDomain, "autocert-domain", "", "domain to request a Let's Encrypt certificate for")
	flags.StringVar(&cfg.AutocertEmail, "autocert-email", "", "contact email for Let's Encrypt")
	flags.StringVar(&cfg.AutocertCache, "autocert-cache", "", "directory to cache autocert certificates in")
	flags.Uint16Var(&cfg.PortStart, "port-start", 10000, "first port in the tunnel allocation range")
	flags.Uint16Var(&cfg.PortEnd, "port-end", 20000, "last port in the tunnel allocation range")
	flags.StringVar(&cfg.AuthToken, "token", "", "optional shared token (accepted, not enforced)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
