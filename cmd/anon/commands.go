package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"anon/internal/data"
	"anon/internal/logger"
	"anon/internal/service"
)

func newMigrateCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := data.Migrate(cmd.Context(), a.schema()); err != nil {
				return err
			}
			success.Println("Migrations applied.")
			return nil
		},
	}
}

func newSeedCommand(envFile *string) *cobra.Command {
	var (
		count     int
		batchSize int
		password  string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo users in batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("--count must be positive")
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := data.Migrate(ctx, a.schema()); err != nil {
				return err
			}
			offset, err := a.users.CountUsers(ctx)
			if err != nil {
				return err
			}

			// One hash serves every seeded account.
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			now := time.Now().UTC().Truncate(time.Second)
			rows := make([]map[string]interface{}, count)
			for i := range rows {
				n := offset + int64(i) + 1
				rows[i] = map[string]interface{}{
					"name":       fmt.Sprintf("user%d", n),
					"password":   string(hash),
					"email":      fmt.Sprintf("user%d@example.com", n),
					"group":      "user",
					"created_at": now,
				}
			}

			start := time.Now()
			inserted, err := a.exec.Table("users").InsertBatch(ctx, rows, batchSize)
			if err != nil {
				return fmt.Errorf("seeded %d of %d users: %w", inserted, count, err)
			}
			success.Printf("Seeded %d users in %s.\n", inserted, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 100, "number of users to insert")
	cmd.Flags().IntVar(&batchSize, "batch-size", 1000, "rows per INSERT statement")
	cmd.Flags().StringVar(&password, "password", "password", "password for every seeded user")
	return cmd
}

func newCheckConnCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-conn",
		Short: "Verify the database connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start := time.Now()
			a, err := openApp(ctx, *envFile)
			if err != nil {
				failure.Println("Connection failed.")
				return err
			}
			defer a.Close()

			success.Printf("Connected to %s in %s.\n", a.db.Driver(), time.Since(start).Round(time.Millisecond))

			exists, err := a.schema().TableExists(ctx, "users")
			if err != nil {
				return err
			}
			if !exists {
				info.Println("Table users does not exist yet; run `anon migrate`.")
				return nil
			}
			n, err := a.users.CountUsers(ctx)
			if err != nil {
				return err
			}
			info.Printf("Table users holds %d rows.\n", n)
			return nil
		},
	}
}

func newCreateAdminCommand(envFile *string) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create the first admin account (interactive password)",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readNewPassword()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := data.Migrate(ctx, a.schema()); err != nil {
				return err
			}
			u, err := a.auth.SetupAdmin(ctx, username, password)
			if err != nil {
				return err
			}
			success.Printf("Admin '%s' created with uid %d.\n", u.Name, u.UID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "admin", "admin username")
	return cmd
}

func newResetPasswordCommand(envFile *string) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Reset a user's password (interactive)",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readNewPassword()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.auth.ResetPassword(cmd.Context(), username, password); err != nil {
				return fmt.Errorf("failed to reset password: %w", err)
			}
			success.Printf("Password for user '%s' has been reset successfully.\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "username to reset")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newEncryptCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Seal a secret for use as DB_PASSWORD or DB_DSN",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			defer logger.Close()
			box, err := service.NewSecretBox(cfg.AppKey)
			if err != nil {
				return err
			}

			var plain string
			if len(args) == 1 {
				plain = args[0]
			} else if plain, err = readSecret("Value: "); err != nil {
				return err
			}
			sealed, err := box.Seal(plain)
			if err != nil {
				return err
			}
			fmt.Println(sealed)
			return nil
		},
	}
}

func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println() // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(b), nil
}

// readNewPassword asks twice and insists both entries match.
func readNewPassword() (string, error) {
	password, err := readSecret("New password: ")
	if err != nil {
		return "", err
	}
	confirm, err := readSecret("Confirm password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}
