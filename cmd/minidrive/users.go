package main

import (
	"fmt"
	"strings"
	"time"

	"minidrive/models"
	"minidrive/utils"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const cliTokenTTL = 24 * time.Hour

func newUsersCmd() *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}
	users.AddCommand(newUsersCreateCmd())
	return users
}

func newUsersCreateCmd() *cobra.Command {
	var email, name string
	var printToken bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user and optionally print a bearer token for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.ToLower(strings.TrimSpace(email))
			if err := utils.ValidateEmail(email); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			st, err := openStore(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer closeStore(st)

			user := &models.User{
				ID:        uuid.New().String(),
				Email:     email,
				Name:      strings.TrimSpace(name),
				CreatedAt: time.Now().UTC(),
			}
			if err := st.Users().Create(ctx, user); err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			log.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User created")

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, user.ID)
			if printToken {
				token, err := utils.GenerateToken(user.ID, user.Email, user.Name, cfg.JWTSecret, cfg.JWTIssuer, cliTokenTTL)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, token)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&printToken, "print-token", false, "print a bearer token for the new user")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
