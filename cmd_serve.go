package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/hibernate"
	"github.com/ekaya-inc/ekaya-orm/pkg/peer"
)

func (a *app) newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer remote sessions over HTTP with a local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, closeRegistry, err := a.openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry()

			s, err := r.NewSession(ctx, hibernate.WithKey("peer"))
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Peer.ListenAddr()
			}

			logger := r.Logger()
			logger.Info("Starting peer server",
				zap.String("version", Version),
				zap.String("role", s.Role().String()),
				zap.String("strategy", r.Strategy().String()),
				zap.Bool("auth", a.cfg.Peer.Secret != ""))

			srv := peer.New(s, peer.Options{
				Secret:  a.cfg.Peer.Secret,
				Version: Version,
				Logger:  logger,
			})
			return srv.ListenAndServe(ctx, addr, a.cfg.Peer.TLSCertPath, a.cfg.Peer.TLSKeyPath)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from peer.bind_addr and peer.port)")
	return cmd
}
