package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"peoplewatch/internal/auth"
	"peoplewatch/internal/config"
)

func newTokenCommand(lookup func(string) (string, bool)) *cobra.Command {
	var (
		username string
		secret   string
		expiry   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret, _ = lookup(config.EnvJWTSecret)
			}
			if secret == "" {
				return fmt.Errorf("no signing secret: set %s or pass --secret", config.EnvJWTSecret)
			}
			if username == "" {
				username, _ = lookup(config.EnvAuthUsername)
			}
			if username == "" {
				return fmt.Errorf("no username: set %s or pass --user", config.EnvAuthUsername)
			}

			token, expiresAt, err := auth.NewJWTManager(secret, expiry).GenerateToken(username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Local().Format(time.RFC3339))
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&username, "user", "", "Token subject (defaults to AUTH_USERNAME).")
	fs.StringVar(&secret, "secret", "", "HMAC secret (defaults to JWT_SECRET).")
	fs.DurationVar(&expiry, "expiry", auth.DefaultExpiry, "Token lifetime.")
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash usable as AUTH_PASSWORD",
		Long:  "Print a bcrypt hash usable as AUTH_PASSWORD. The password is read from stdin when not given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				var err error
				if password, err = readPassword(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("empty password")
	}
	return password, nil
}
