package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/paulexconde/fieldsurvey/internal/services"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return fs.Migrate(ctx)
	},
}

var placesCmd = &cobra.Command{
	Use:   "places",
	Short: "Maintain derived places",
}

var placesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete temporary places no response refers to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		n, err := fs.Places.PruneTemporaryPlaces(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d temporary places\n", n)
		return nil
	},
}

var newUser services.NewUser

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage submitting users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user and print its generated password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		user, password, err := fs.Users.Create(ctx, newUser)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "created user %d login %s password %s\n", user.ID, user.Login, password)
		if user.CanGetEmail() || user.CanGetSMS() {
			fmt.Fprintln(out, services.VCard(user))
		}
		return nil
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a user that has not submitted responses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		if err := fs.Users.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted user %d\n", id)
		return nil
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&newUser.Name, "name", "", "Full name (required)")
	userCreateCmd.Flags().StringVar(&newUser.Login, "login", "", "Login (default: suggested from the name)")
	userCreateCmd.Flags().StringVar(&newUser.Email, "email", "", "Email address")
	userCreateCmd.Flags().StringVar(&newUser.Phone, "phone", "", "Mobile phone")
	userCreateCmd.Flags().StringVar(&newUser.Phone2, "phone2", "", "Second mobile phone")
	userCreateCmd.MarkFlagRequired("name")
}
