package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"casedesk/cmd/casedesk/authentication"
	"casedesk/internal/backend"
)

// authCmd groups the token management subcommands
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  `Store, inspect and remove the access token used to reach the backend.`,
}

// loginCmd stores a token handed out by the backend, or mints a development
// token when --dev-secret is given.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an access token in the OS keyring",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		devSecret, _ := cmd.Flags().GetString("dev-secret")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		if token == "" {
			if devSecret == "" || userID <= 0 {
				return errors.New("provide --token, or --dev-secret together with --user")
			}
			issued, err := backend.IssueToken(devSecret, userID, ttl)
			if err != nil {
				return err
			}
			token = issued
		}

		claims, err := backend.TokenClaims(token)
		if err != nil {
			return fmt.Errorf("login process failed: %w", err)
		}
		if !backend.TokenValid(token, time.Now()) {
			return errors.New("login process failed: token already expired")
		}

		creds := &authentication.StoredCredentials{AccessToken: token, UserID: claims.UserID}
		if userID > 0 {
			creds.UserID = userID
		}
		if claims.ExpiresAt != nil {
			creds.ExpiresAt = claims.ExpiresAt.Unix()
		}
		if creds.UserID <= 0 {
			return errors.New("token has no user_id claim, pass --user")
		}
		if err := authentication.StoreTokens(creds); err != nil {
			return fmt.Errorf("failed to store token: %w", err)
		}

		color.Green("✓ Logged in as user %d", creds.UserID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := authentication.DeleteTokens(); err != nil {
			return fmt.Errorf("failed to remove token: %w", err)
		}
		color.Green("✓ Successfully logged out.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored token state",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := authentication.GetTokens()
		if err != nil {
			return err
		}
		fmt.Printf("User:    %d\n", creds.UserID)
		if creds.ExpiresAt == 0 {
			fmt.Println("Expires: never")
		} else {
			fmt.Printf("Expires: %s\n", time.Unix(creds.ExpiresAt, 0).Format(time.RFC1123))
		}
		if backend.TokenValid(creds.AccessToken, time.Now()) {
			color.Green("Token:   valid")
		} else {
			color.Red("Token:   expired, run 'casedesk auth login' again")
		}
		return nil
	},
}

func init() {
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(statusCmd)

	loginCmd.Flags().StringP("token", "t", "", "access token issued by the backend")
	loginCmd.Flags().String("dev-secret", "", "mint a development token signed with this secret")
	loginCmd.Flags().Duration("ttl", 24*time.Hour, "lifetime of a development token")
}
