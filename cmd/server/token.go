package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkeye/Agora/internal/auth"
	"github.com/dkeye/Agora/internal/config"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/dkeye/Agora/internal/store"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token [identity]",
	Short: "Mint a credential for a configured account (development only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "credential lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	accounts, err := cfg.Directory.DomainAccounts()
	if err != nil {
		return err
	}
	id := domain.IdentityID(args[0])
	var acc *domain.Account
	for i := range accounts {
		if accounts[i].ID == id {
			acc = &accounts[i]
			break
		}
	}
	if acc == nil {
		return fmt.Errorf("account %s not configured", id)
	}
	authn := auth.New(auth.Config{Secret: cfg.Auth.JWTSecret}, store.NewMemoryDirectory(accounts))
	signed, err := authn.Issue(acc, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), signed)
	return nil
}
