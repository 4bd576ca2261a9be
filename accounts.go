package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"shift-booker/pkg/booker"
)

var (
	addPassword string
	addCustom   bool
	configFlags runInputs
	sharedOff   bool
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the stored site accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts with their position and mode",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, book, closeStore, err := openAccounts(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		writeAccounts(cmd.OutOrStdout(), book.List())
		return nil
	},
}

var accountsAddCmd = &cobra.Command{
	Use:   "add USERNAME",
	Short: "Add an account (password from --password or SHIFTS_ACCOUNT_PASSWORD)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := addPassword
		if secret == "" {
			secret = os.Getenv("SHIFTS_ACCOUNT_PASSWORD")
		}
		_, book, closeStore, err := openAccounts(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		a, err := book.Add(cmd.Context(), args[0], secret, !addCustom)
		if err != nil {
			return err
		}
		list := book.List()
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", a.DisplayName(len(list)-1))
		return nil
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove POSITION",
	Short: "Remove the account at POSITION",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := accountIndex(args[0])
		if err != nil {
			return err
		}
		_, book, closeStore, err := openAccounts(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		a, err := book.Remove(cmd.Context(), idx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", a.DisplayName(-1))
		return nil
	},
}

var accountsSharedCmd = &cobra.Command{
	Use:   "shared POSITION",
	Short: "Make the account use the shared inputs (--off to use its own)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := accountIndex(args[0])
		if err != nil {
			return err
		}
		_, book, closeStore, err := openAccounts(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		return book.SetShared(cmd.Context(), idx, !sharedOff)
	},
}

var accountsConfigureCmd = &cobra.Command{
	Use:   "configure POSITION",
	Short: "Give the account its own room, cooldown and shifts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := accountIndex(args[0])
		if err != nil {
			return err
		}
		store, book, closeStore, err := openAccounts(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		in, err := configFlags.shared(cmd.Context(), store)
		if err != nil {
			return err
		}
		if err := book.Configure(cmd.Context(), idx, in.Room, in.Cooldown, in.Targets); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configured %s: room %s, %d shift(s)\n",
			book.List()[idx].DisplayName(idx), in.Room, in.Targets.Len())
		return nil
	},
}

func init() {
	accountsAddCmd.Flags().StringVar(&addPassword, "password", "", "account password")
	accountsAddCmd.Flags().BoolVar(&addCustom, "custom", false, "start in custom mode instead of shared")
	accountsSharedCmd.Flags().BoolVar(&sharedOff, "off", false, "use the account's own configuration")
	configFlags.register(accountsConfigureCmd, true)

	accountsCmd.AddCommand(accountsListCmd, accountsAddCmd, accountsRemoveCmd, accountsSharedCmd, accountsConfigureCmd)
}

func writeAccounts(w io.Writer, accounts []booker.Account) {
	if len(accounts) == 0 {
		fmt.Fprintln(w, "No accounts. Add one with 'accounts add'.")
		return
	}
	for i, a := range accounts {
		mode := "shared"
		if !a.UseShared {
			mode = fmt.Sprintf("custom room=%s cooldown=%s shifts=%s", a.Room, a.Cooldown, describeTargets(a.Targets))
		}
		fmt.Fprintf(w, "%s\t%s\n", a.DisplayName(i), mode)
	}
}

func describeTargets(set booker.TargetSet) string {
	if set.Len() == 0 {
		return "none"
	}
	parts := make([]string, set.Len())
	for i, t := range set {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}
