package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/config"
	"github.com/ekaya-inc/ekaya-orm/pkg/hibernate"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
)

// Version is set at build time via ldflags
var Version = "dev"

// app carries the configuration loaded before every command.
type app struct {
	configPath string
	cfg        *config.Config
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "ekaya-orm",
		Short:         "Object/relational mapping registry, peer server and tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath, Version)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "configuration file (default "+config.DefaultFile+")")

	root.AddCommand(newVersionCmd())
	root.AddCommand(a.newServeCmd())
	root.AddCommand(a.newSchemaCmd())
	root.AddCommand(a.newGenerateCmd())
	root.AddCommand(a.newSealCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ekaya-orm", Version)
		},
	}
}

// openRegistry starts the registry and returns a function closing it.
func (a *app) openRegistry(ctx context.Context) (*hibernate.Registry, func(), error) {
	r, err := hibernate.New(a.cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return r, func() {
		if err := r.Close(ctx); err != nil {
			r.Logger().Error("Failed to close registry", zap.Error(err))
		}
	}, nil
}

// model builds the class model of the mapping configuration.
func model(r *hibernate.Registry) (*mapping.Model, error) {
	doc := r.Document()
	if doc == nil {
		return nil, fmt.Errorf("no mapping configuration loaded from %s", r.Config().Mapping)
	}
	m := mapping.NewModel(r.Context())
	if err := m.Apply(doc); err != nil {
		return nil, err
	}
	return m, nil
}
