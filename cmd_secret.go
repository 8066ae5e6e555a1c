package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) newSealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seal [value]",
		Short: "Print a secret in sealed form for PGPASSWORD or HIBERNATE_PEER_SECRET",
		Long: "Seal encrypts a value with HIBERNATE_CREDENTIALS_KEY. The value is read " +
			"from standard input when no argument is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := a.cfg.Encryptor()
			if err != nil {
				return err
			}
			if enc == nil {
				return errors.New("HIBERNATE_CREDENTIALS_KEY is not set")
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read value: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return errors.New("nothing to seal")
			}

			sealed, err := enc.Seal(value)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}
