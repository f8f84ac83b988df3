package cmd

import (
	"fmt"
	"os"

	"github.com/iksnae/chatark/internal"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configFile string
	envFile    string
	baseURL    string
	dbPath     string
	selfID     string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"

	// cfg is loaded once per invocation by PersistentPreRunE
	cfg internal.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatark",
	Short: "Watch and export Feishu chats through a relay service",
	Long: `A CLI client for a chat-relay backend.

chatark keeps named credential profiles, each with a list of chat ids, and
talks to the relay service with them: it streams live messages of a chat,
fetches its history and requests analysis exports.

Quick Start:
  chatark profile save --name work --api-key KEY --auth-file auth.json
  chatark chat add oc_123456            # add a chat to the active profile
  chatark watch                         # stream the active chat
  chatark history --format md           # save the chat history as Markdown
  chatark analyze --count 200           # export the last 200 messages for analysis

Configuration is read from ~/.config/chatark/config.yaml, a .env file and
CHATARK_* environment variables, then overridden by flags.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := internal.LoadConfig(internal.LoadOptions{ConfigFile: configFile, EnvFile: envFile})
		if err != nil {
			return err
		}
		applyFlags(cmd, &loaded)
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		internal.SetVerbose(cfg.Verbose)
		return nil
	},
}

// applyFlags overrides config values with flags the user set explicitly
func applyFlags(cmd *cobra.Command, c *internal.Config) {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		c.BaseURL = baseURL
	}
	if flags.Changed("db") {
		c.DBPath = dbPath
	}
	if flags.Changed("self-id") {
		c.SelfID = selfID
	}
	if flags.Changed("verbose") {
		c.Verbose = verbose
	}
	c.Resolve()
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		internal.PrintError(fmt.Sprintf("Error: %v", err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file (ignored when missing)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Relay service base URL (default "+internal.DefaultBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the local storage database")
	rootCmd.PersistentFlags().StringVar(&selfID, "self-id", "", "Your sender id, to mark your own messages")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
