package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/codegen"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
)

func (a *app) newGenerateCmd() *cobra.Command {
	var (
		pkg string
		out string
	)

	cmd := &cobra.Command{
		Use:   "generate [class...]",
		Short: "Write Go entity sources for mapped classes (all classes when none are named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, closeRegistry, err := a.openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry()

			m, err := model(r)
			if err != nil {
				return err
			}

			var classes []*mapping.Class
			if len(args) == 0 {
				classes = m.Classes()
			}
			for _, name := range args {
				c, ok := m.FindClass(name)
				if !ok {
					return fmt.Errorf("class %q is not mapped", name)
				}
				classes = append(classes, c)
			}

			if err := os.MkdirAll(out, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			for _, c := range classes {
				files, err := codegen.Generate(c, pkg)
				if err != nil {
					return err
				}
				for _, f := range files {
					path := filepath.Join(out, f.Name)
					if f.Stub {
						if _, err := os.Stat(path); err == nil {
							r.Logger().Debug("Keeping existing stub", zap.String("path", path))
							continue
						} else if !errors.Is(err, fs.ErrNotExist) {
							return err
						}
					}
					if err := os.WriteFile(path, f.Content, 0o644); err != nil {
						return fmt.Errorf("write %s: %w", path, err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pkg, "package", "model", "package name of the generated sources")
	cmd.Flags().StringVar(&out, "out", ".", "output directory")
	return cmd
}
