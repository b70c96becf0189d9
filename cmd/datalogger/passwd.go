package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"datalogger/internal/auth"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func passwdCmd() *cobra.Command {
	var (
		password string
		cost     int
	)
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Print a bcrypt hash for the users section of the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				b, err := readPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = string(b)
			}
			if password == "" {
				return errors.New("usage: datalogger passwd -p <password>")
			}
			h, err := auth.HashPassword(password, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted for when omitted)")
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
