// Package server implements the revtun server: the admin HTTP surface, the
// control-session websocket endpoint, and the tunnel accept loops, all
// wired against a shared *registry.Registry.
package server

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/http"

	"golang.org/x/crypto/acme/autocert"

	"github.com/tunnelcraft/revtun/internal/registry"
)

// Config is the server's external configuration (spec §6). AuthToken is
// accepted for forward compatibility but never compared against anything
// the core does (spec §9 open questions).
type Config struct {
	BindAddr string

	PlaintextPort int
	TLSPort       int

	TLSCertFile string
	TLSKeyFile  string

	AutocertDomain string
	AutocertEmail  string
	AutocertCache  string

	PortStart uint16
	PortEnd   uint16

	AuthToken string
}

// Server ties the registry to the admin HTTP surface and the tunnel accept
// loops it spawns through registry.TunnelStarter.
type Server struct {
	cfg Config
	reg *registry.Registry
}

// New builds a server and wires its registry's tunnel starter.
func New(cfg Config) *Server {
	reg := registry.New(registry.Config{PortStart: cfg.PortStart, PortEnd: cfg.PortEnd})
	s := &Server{cfg: cfg, reg: reg}
	reg.SetTunnelStarter(s.startTunnel)
	return s
}

// Run starts the admin/control HTTP surface and blocks until one of the
// listeners fails. Exit-code-worthy configuration errors (spec §6) are
// returned before anything is started.
func (s *Server) Run() error {
	if s.cfg.PlaintextPort == 0 && s.cfg.TLSPort == 0 {
		return fmt.Errorf("no transport port enabled: set plaintext and/or TLS port")
	}

	handler := s.routes()
	errCh := make(chan error, 2)
	started := 0

	if s.cfg.PlaintextPort != 0 {
		addr := fmt.Sprintf("%s:%d", s.cfg.BindAddr, s.cfg.PlaintextPort)
		srv := &http.Server{Addr: addr, Handler: handler}
		started++
		go func() {
			log.Printf("server: plaintext listening on %s", addr)
			errCh <- srv.ListenAndServe()
		}()
	}

	if s.cfg.TLSPort != 0 {
		tlsConfig, err := s.buildTLSConfig()
		if err != nil {
			if s.cfg.PlaintextPort == 0 {
				return fmt.Errorf("TLS required but unavailable, no plaintext fallback: %w", err)
			}
			log.Printf("server: TLS disabled: %v", err)
		} else {
			addr := fmt.Sprintf("%s:%d", s.cfg.BindAddr, s.cfg.TLSPort)
			srv := &http.Server{Addr: addr, Handler: handler, TLSConfig: tlsConfig}
			started++
			go func() {
				log.Printf("server: TLS listening on %s", addr)
				errCh <- srv.ListenAndServeTLS("", "")
			}()
		}
	}

	if started == 0 {
		return fmt.Errorf("no transport port could be started")
	}

	return <-errCh
}

// buildTLSConfig prefers a static cert/key pair, falling back to autocert
// when a domain is configured (grounded on the teacher's own gateway
// wiring — see DESIGN.md).
func (s *Server) buildTLSConfig() (*tls.Config, error) {
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS cert/key: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
	}

	if s.cfg.AutocertDomain != "" {
		cacheDir := s.cfg.AutocertCache
		if cacheDir == "" {
			cacheDir = "."
		}
		mgr := autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.cfg.AutocertDomain),
			Cache:      autocert.DirCache(cacheDir),
			Email:      s.cfg.AutocertEmail,
		}
		return &tls.Config{GetCertificate: mgr.GetCertificate, MinVersion: tls.VersionTLS12}, nil
	}

	return nil, fmt.Errorf("TLS port set but neither cert/key nor autocert domain configured")
}
