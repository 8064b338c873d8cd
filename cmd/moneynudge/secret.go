package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/moneynudge/internal/secrets"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage credentials kept outside the config file",
}

var secretSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Store a credential (name \"sms\" is the SMS auth token)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := secrets.Default()
		if err != nil {
			return err
		}
		if err := store.Put(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := secrets.Default()
		if err != nil {
			return err
		}
		return store.Delete(args[0])
	},
}

func init() {
	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd)
	rootCmd.AddCommand(secretCmd)
}
