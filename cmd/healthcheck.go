package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/chatark/internal"
	"github.com/spf13/cobra"
)

var healthcheckOffline bool

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// errHealthcheckFailed is returned when a required check fails
var errHealthcheckFailed = errors.New("healthcheck failed")

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check configuration, local storage, credentials and the relay service",
	Long: `Check the health of chatark by verifying:
  • Configuration and storage paths
  • Local storage access and stored profiles
  • Credential completeness of the active profile
  • The selected chat
  • Relay service reachability (skipped with --offline)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHealthcheck(cmd.Context(), cmd.OutOrStdout())
	},
}

func runHealthcheck(ctx context.Context, w io.Writer) error {
	say := func(line string) { _, _ = fmt.Fprintln(w, line) }
	sayf := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format+"\n", args...) }

	say(sectionStyle.Render("chatark health check"))
	say("")

	say(infoStyle.Render("Step 1: Configuration..."))
	say(successStyle.Render("✅ Configuration loaded"))
	if cfg.Verbose {
		sayf("   Base URL: %s", cfg.BaseURL)
		sayf("   Database: %s", cfg.DBPath)
		sayf("   Export count: %d", cfg.ExportCount)
	}
	say("")

	say(infoStyle.Render("Step 2: Opening local storage..."))
	a, err := openApp()
	if err != nil {
		sayf("%s %v", errorStyle.Render("❌ Failed to open local storage:"), err)
		return errHealthcheckFailed
	}
	defer a.Close()
	count := a.store.Len()
	if count == 0 {
		say(warningStyle.Render("⚠️  No profiles stored"))
		say("   Create one with 'chatark profile save' or import one with 'chatark profile import'")
		return nil
	}
	say(successStyle.Render(fmt.Sprintf("✅ Found %d profile(s)", count)))
	say("")

	say(infoStyle.Render("Step 3: Checking the active profile..."))
	_, profile, err := a.activeProfile()
	if err != nil {
		if focusErr := a.focus(""); focusErr != nil && !errors.Is(focusErr, internal.ErrNoActiveChat) {
			sayf("%s %v", errorStyle.Render("❌"), focusErr)
			return errHealthcheckFailed
		}
		_, profile, _ = a.activeProfile()
		say(warningStyle.Render(fmt.Sprintf("⚠️  No active profile, using %q", profile.Name)))
	}
	summary := credentialSummary(profile)
	if summary != "complete" {
		sayf("%s %s", errorStyle.Render(fmt.Sprintf("❌ Credentials of %q are", profile.Name)), summary)
		return errHealthcheckFailed
	}
	say(successStyle.Render(fmt.Sprintf("✅ Credentials of %q are complete", profile.Name)))
	if cfg.Verbose {
		sayf("   API key: %s", internal.Redact(profile.APIKey))
	}
	say("")

	say(infoStyle.Render("Step 4: Checking the selected chat..."))
	if err := a.focus(""); err != nil {
		sayf("%s %v", warningStyle.Render("⚠️ "), err)
		return nil
	}
	chatID := a.controller.Snapshot().ChatID
	say(successStyle.Render(fmt.Sprintf("✅ Chat %s selected", chatID)))
	say("")

	if healthcheckOffline {
		say(warningStyle.Render("⚠️  Skipping relay service check (--offline)"))
		return nil
	}

	say(infoStyle.Render("Step 5: Contacting the relay service..."))
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	messages, err := a.controller.History(ctx)
	if err != nil {
		sayf("%s %v", errorStyle.Render("❌ History request failed:"), err)
		return errHealthcheckFailed
	}
	say(successStyle.Render(fmt.Sprintf("✅ Relay service answered with %d message(s)", len(messages))))
	say("")

	say(sectionStyle.Render("Summary"))
	say(successStyle.Render("✅ Ready: 'chatark watch' will stream chat " + chatID))
	return nil
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVar(&healthcheckOffline, "offline", false, "Skip the relay service request")
}
