package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cutline/internal/config"
	"cutline/internal/db"
	"cutline/internal/migrate"
	"cutline/internal/repo"
	cutlinesdk "cutline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "cutline",
	Short: "Cutline CLI",
	Long: `Cutline is a multitrack timeline editing service driven by agents.
- Session: one in-memory timeline with its tracks, undo history and directive queue. Sessions live in the running server.
- Tracks and items: clips are placed in frames; overlapping clips are pushed later on their track.
- Directives: high-level editing instructions (cuts, music, text, transitions, effects) queued by a director and executed one at a time.
- Journal: every successful change is recorded in the workspace database; view it with 'cutline log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CUTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("server", "http://127.0.0.1:8710", "server URL for session commands")
	flags.String("base-path", "/v0", "server API base path")
	flags.String("agent-id", "", "agent identifier sent when no credentials are set")
	flags.String("api-key", "", "API key")
	flags.String("token", "", "bearer token")
	for _, name := range []string{"workspace", "json", "server", "base-path", "agent-id", "api-key", "token"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(tokenCmd())
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if secret := viper.GetString("jwt-secret"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	return cfg, nil
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newClient() *cutlinesdk.Client {
	c := cutlinesdk.New(viper.GetString("server"))
	c.BasePath = viper.GetString("base-path")
	c.AgentID = viper.GetString("agent-id")
	c.APIKey = viper.GetString("api-key")
	c.BearerToken = viper.GetString("token")
	return c
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
