package main

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"qms/internal/auth"
)

var (
	userEmail    string
	userName     string
	userPassword string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a password user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userEmail == "" || userPassword == "" {
			return errors.New("--email and --password are required")
		}
		cfg, log, err := loadPostgresConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		user, err := auth.New(st, cfg.SessionTTL, nil).CreateUser(cmd.Context(), userEmail, userName, userPassword)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"user_id": user.UserID, "email": user.Email}).Info("user created")
		return nil
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "login email")
	userAddCmd.Flags().StringVar(&userName, "name", "", "display name")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "password, at least 8 characters")
	userCmd.AddCommand(userAddCmd)
}
