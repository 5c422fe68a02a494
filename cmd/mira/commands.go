package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/mira/internal/config"
	"github.com/kalambet/mira/internal/identity"
	"github.com/kalambet/mira/internal/memory"
	"github.com/kalambet/mira/internal/storage"
	"github.com/kalambet/mira/internal/turn"
	"github.com/kalambet/mira/internal/workspace"
)

// stdout receives assistant text. Tests swap it.
var stdout io.Writer = os.Stdout

// openStore opens the configured data directory for commands that work
// without a running server.
var openStore = func() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Storage.DataDir)
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one message and stream the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), client, strings.Join(args, " "))
	},
}

func runChat(ctx context.Context, client *apiClient, message string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var failed error
	err := client.stream(ctx, "/v1/chat", map[string]string{"message": message}, func(ev turn.Event) error {
		switch ev.Type {
		case turn.EventThinking:
			printThinking(ev.Stage)
		case turn.EventStatus:
			printThinking(ev.Action + " " + ev.Tool)
		case turn.EventText:
			fmt.Fprint(stdout, ev.Content)
		case turn.EventComplete:
			fmt.Fprintln(stdout)
		case turn.EventError:
			failed = errors.New(ev.Error)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return failed
}

// --- user ---

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and API tokens",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		role, _ := cmd.Flags().GetString("role")
		userType, _ := cmd.Flags().GetString("type")
		if id == "" || name == "" {
			return errors.New("--id and --name are required")
		}
		if !validRole(role) {
			return fmt.Errorf("unknown role %q", role)
		}
		if !validType(userType) {
			return fmt.Errorf("unknown user type %q", userType)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		err = store.CreateUser(context.Background(), storage.User{
			ID:       id,
			Name:     name,
			Email:    email,
			Role:     role,
			UserType: userType,
			Settings: "{}",
		})
		if err != nil {
			return err
		}
		printSuccess("Created user %s (%s, %s)", id, role, userType)
		return nil
	},
}

var userTokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue an API token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		if _, err := store.GetUser(ctx, args[0]); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("user %q does not exist", args[0])
			}
			return err
		}

		token, err := newToken()
		if err != nil {
			return err
		}
		if err := store.SaveToken(ctx, args[0], token); err != nil {
			return err
		}
		fmt.Fprintln(stdout, token)
		printStep("export MIRA_TOKEN=%s to use it with `mira chat`", token)
		return nil
	},
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func validRole(r string) bool {
	switch r {
	case identity.RoleOwner, identity.RoleAdmin, identity.RoleMember:
		return true
	}
	return false
}

func validType(t string) bool {
	switch t {
	case identity.TypeCompanion, identity.TypeEngineer, identity.TypePlatform, identity.TypeSimulation:
		return true
	}
	return false
}

func init() {
	userCreateCmd.Flags().String("id", "", "user ID")
	userCreateCmd.Flags().String("name", "", "display name")
	userCreateCmd.Flags().String("email", "", "email address")
	userCreateCmd.Flags().String("role", identity.RoleMember, "role: owner, admin or member")
	userCreateCmd.Flags().String("type", identity.TypeCompanion, "user type: companion, engineer, platform or simulation")
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userTokenCmd)
}

// --- master ---

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Manage the shared master configuration",
}

var masterLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load the master configuration from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		mc, err := identity.NewManager(store).LoadMasterFile(args[0])
		if err != nil {
			return err
		}
		printSuccess("Loaded master config (%d immutable rules, %d admins)", len(mc.ImmutableRules), len(mc.AdminUserIDs))
		return nil
	},
}

func init() {
	masterCmd.AddCommand(masterLoadCmd)
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Maintain long-term memory",
}

var memoryMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move memory points from one owner to another",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		batch, _ := cmd.Flags().GetInt("batch")
		if from == "" || to == "" {
			return errors.New("--from and --to are required")
		}
		if from == to {
			return errors.New("--from and --to must differ")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		moved, err := memory.NewMigrator(memory.NewStore(store.DB())).Reown(context.Background(), from, to, batch)
		if err != nil {
			return err
		}
		printSuccess("Moved %d memory points from %s to %s", moved, from, to)
		return nil
	},
}

func init() {
	memoryMigrateCmd.Flags().String("from", "", "current owner ID")
	memoryMigrateCmd.Flags().String("to", "", "new owner ID")
	memoryMigrateCmd.Flags().Int("batch", 100, "points moved per transaction")
	memoryCmd.AddCommand(memoryMigrateCmd)
}

// --- workspace ---

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage the workspace notes",
}

var workspaceImportCmd = &cobra.Command{
	Use:   "import <file.pdf>",
	Short: "Import a PDF document as a workspace note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		if owner == "" {
			return errors.New("--owner is required")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		e, err := workspace.NewStore(store.DB()).ImportPDF(context.Background(), owner, args[0])
		if err != nil {
			return err
		}
		printSuccess("Imported %q as note %s", e.Title, e.ID)
		return nil
	},
}

func init() {
	workspaceImportCmd.Flags().String("owner", "", "user who owns the note")
	workspaceCmd.AddCommand(workspaceImportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
