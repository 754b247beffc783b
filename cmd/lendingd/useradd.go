package main

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-lending/internal/config"
	"library-lending/internal/core"
	"library-lending/internal/core/model"
)

var useraddAdmin bool

var useraddCmd = &cobra.Command{
	Use:   "useradd <username>",
	Short: "Create a user account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		password, err := readPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := readPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if password != confirm {
			return fmt.Errorf("passwords do not match")
		}

		role := model.RoleUser
		if useraddAdmin {
			role = model.RoleAdmin
		}
		svc := core.NewService(store, cfg.ModelPolicy())
		u, err := svc.AddUser(cmd.Context(), model.AddUserInput{
			Username: args[0],
			Password: password,
			Role:     role,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created %s (id %d, role %s)\n", u.Username, u.ID, u.Role)
		return nil
	},
}

func init() {
	useraddCmd.Flags().BoolVar(&useraddAdmin, "admin", false, "grant the administrator role")
}

// readPassword reads a password without echoing.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}
