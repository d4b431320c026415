package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through a browser window and store the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp()
		if err != nil {
			return err
		}
		defer done()

		fmt.Println("Sign in in the browser window; it closes once the session is saved.")
		return a.TriggerLogin(cmd.Context())
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp()
		if err != nil {
			return err
		}
		defer done()
		return a.TriggerLogout()
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)
}
