// Command viralspyctl bootstraps and manages a ViralSpy deployment: it applies
// migrations and mints, lists and revokes API keys directly against the database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/viralspy/internal/apikey"
	"github.com/kiranshivaraju/viralspy/internal/config"
	"github.com/kiranshivaraju/viralspy/internal/store"
	"github.com/kiranshivaraju/viralspy/pkg/models"
)

// keyRepo is the slice of the store the key commands need.
type keyRepo interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, ownerID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error
}

// env wires commands to their backing services. Tests replace both funcs.
type env struct {
	out      io.Writer
	openKeys func(ctx context.Context) (keyRepo, func(), error)
	migrate  func(dir string) error
}

func main() {
	e := &env{out: os.Stdout, openKeys: openPostgres, migrate: migrateFromEnv}
	if err := newRootCmd(e).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openPostgres(ctx context.Context) (keyRepo, func(), error) {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, nil, err
	}
	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

func migrateFromEnv(dir string) error {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}
	return store.RunMigrations(cfg.URL, dir)
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "viralspyctl",
		Short:         "ViralSpy admin CLI",
		Long:          "Administrative commands for ViralSpy. DATABASE_URL selects the database.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(e.out)
	root.PersistentFlags().Bool("json", false, "output JSON")

	root.AddCommand(migrateCmd(e))
	root.AddCommand(keysCmd(e))
	return root
}

func migrateCmd(e *env) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.migrate(dir); err != nil {
				return err
			}
			fmt.Fprintln(e.out, "migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "migrations directory")
	return cmd
}

func keysCmd(e *env) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	keys.AddCommand(keysCreateCmd(e))
	keys.AddCommand(keysListCmd(e))
	keys.AddCommand(keysRevokeCmd(e))
	return keys
}

func keysCreateCmd(e *env) *cobra.Command {
	var owner, name string
	var scopes []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint a new API key and print it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := parseOwner(owner)
			if err != nil {
				return err
			}
			name = strings.TrimSpace(name)
			if name == "" {
				return fmt.Errorf("--name required")
			}
			for _, s := range scopes {
				if !apikey.ValidScope(s) {
					return fmt.Errorf("unknown scope %q", s)
				}
			}

			key, raw, err := apikey.Generate(ownerID, name, scopes)
			if err != nil {
				return err
			}
			return e.withKeys(cmd.Context(), func(ctx context.Context, r keyRepo) error {
				if err := r.CreateAPIKey(ctx, key); err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(e.out, map[string]any{
						"id":         key.ID,
						"owner_id":   key.OwnerID,
						"name":       key.Name,
						"key":        raw,
						"key_prefix": key.KeyPrefix,
						"scopes":     key.Scopes,
					})
				}
				fmt.Fprintf(e.out, "id:     %s\nowner:  %s\nscopes: %s\nkey:    %s\n",
					key.ID, key.OwnerID, strings.Join(key.Scopes, ","), raw)
				fmt.Fprintln(e.out, "store the key now; it cannot be shown again")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scope to grant (repeatable: read, write, admin)")
	return cmd
}

func keysListCmd(e *env) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the active keys of an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := uuid.Parse(owner)
			if err != nil {
				return fmt.Errorf("--owner must be a UUID")
			}
			return e.withKeys(cmd.Context(), func(ctx context.Context, r keyRepo) error {
				keys, err := r.ListAPIKeys(ctx, ownerID)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(e.out, keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(e.out)
				tw.AppendHeader(table.Row{"ID", "Name", "Prefix", "Scopes", "Last used", "Created"})
				for _, k := range keys {
					lastUsed := "never"
					if k.LastUsedAt != nil {
						lastUsed = k.LastUsedAt.Format("2006-01-02 15:04")
					}
					tw.AppendRow(table.Row{k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","),
						lastUsed, k.CreatedAt.Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	return cmd
}

func keysRevokeCmd(e *env) *cobra.Command {
	var owner, id string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := uuid.Parse(owner)
			if err != nil {
				return fmt.Errorf("--owner must be a UUID")
			}
			keyID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("--id must be a UUID")
			}
			return e.withKeys(cmd.Context(), func(ctx context.Context, r keyRepo) error {
				if err := r.RevokeAPIKey(ctx, keyID, ownerID); err != nil {
					return err
				}
				fmt.Fprintf(e.out, "revoked %s\n", keyID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&id, "id", "", "key id")
	return cmd
}

func (e *env) withKeys(ctx context.Context, fn func(context.Context, keyRepo) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r, closeFn, err := e.openKeys(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, r)
}

func parseOwner(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--owner must be a UUID")
	}
	return id, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
