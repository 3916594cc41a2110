package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/parley/internal/database"
	"github.com/nfrund/parley/internal/domain"
)

var (
	seedUsername  string
	seedFirstName string
	seedLastName  string
	seedEmail     string
	seedInactive  bool
)

// seedCmd groups commands writing fixtures into the configured store. User
// accounts are owned by an external identity service in production.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create users and conversations in the configured store",
}

var seedUserCmd = &cobra.Command{
	Use:   "user <id>",
	Short: "Create or replace a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store database.Store) error {
			u := &domain.User{
				ID:        args[0],
				Username:  seedUsername,
				FirstName: seedFirstName,
				LastName:  seedLastName,
				Email:     seedEmail,
				IsActive:  !seedInactive,
			}
			if u.Username == "" {
				u.Username = u.ID
			}
			if err := store.SaveUser(ctx, u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved user %s (%s)\n", u.ID, u.Username)
			return nil
		})
	},
}

var seedConversationCmd = &cobra.Command{
	Use:   "conversation <userA> <userB>",
	Short: "Create the direct conversation between two users",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store database.Store) error {
			conv, err := store.FindDirectConversation(ctx, args[0], args[1])
			if errors.Is(err, domain.ErrNotFound) {
				conv, err = store.CreateConversation(ctx, []string{args[0], args[1]})
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
			return nil
		})
	},
}

func withStore(ctx context.Context, fn func(context.Context, database.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := database.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()
	return fn(ctx, store)
}

func init() {
	seedUserCmd.Flags().StringVar(&seedUsername, "username", "", "display handle (defaults to the id)")
	seedUserCmd.Flags().StringVar(&seedFirstName, "first-name", "", "first name")
	seedUserCmd.Flags().StringVar(&seedLastName, "last-name", "", "last name")
	seedUserCmd.Flags().StringVar(&seedEmail, "email", "", "email address")
	seedUserCmd.Flags().BoolVar(&seedInactive, "inactive", false, "create the account deactivated")

	seedCmd.AddCommand(seedUserCmd, seedConversationCmd)
	rootCmd.AddCommand(seedCmd)
}
