package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/H4MSA/solivrah/internal/auth"
	"github.com/H4MSA/solivrah/internal/cli"
)

func initCmd() *cobra.Command {
	var userID, keysFile string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an API key for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keysFile == "" {
				keysFile = auth.ResolveKeysPath()
			}
			key, err := cli.InitKeysFile(keysFile, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s key for %s written to %s\n%s\n", okMark(), userID, keysFile, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user the key acts for")
	cmd.Flags().StringVar(&keysFile, "keys-file", "", "keys file path (default $SOLIVRAH_KEYS_FILE or ./solivrah.keys.yaml)")
	cmd.MarkFlagRequired("user-id")
	return cmd
}
