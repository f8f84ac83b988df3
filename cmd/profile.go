package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/chatark/internal"
	"github.com/spf13/cobra"
)

var (
	profileSaveID     string
	profileSaveName   string
	profileSaveAPIKey string
	profileSaveAuth   string
	profileSaveChats  string
	profileSaveNew    bool
	profileExportAll  bool
	profileExportOut  string
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	Aliases: []string{"profiles"},
	Short:   "Manage credential profiles",
	Long: `Manage credential profiles.

A profile is a named credential set (API key plus the auth JSON captured
from the browser) together with the chat ids it can read.`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		profiles := a.store.List()
		if len(profiles) == 0 {
			internal.PrintInfo("No profiles yet. Create one with 'chatark profile save'.")
			return nil
		}
		writeProfileList(cmd.OutOrStdout(), a.store, profiles)
		return nil
	},
}

func writeProfileList(w io.Writer, store *internal.ProfileStore, profiles []internal.ProfileSummary) {
	active := store.ActiveID()
	_, _ = fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Profiles (%s)", countStyle.Render(fmt.Sprint(len(profiles))))))
	for _, summary := range profiles {
		marker := " "
		if summary.ID == active {
			marker = activeStyle.Render("*")
		}
		p, _ := store.Get(summary.ID)
		_, _ = fmt.Fprintf(w, "%s %s %s  %d chat(s)\n", marker, titleStyle.Render(summary.Name), idStyle.Render(summary.ID), len(p.ChatIDs))
	}
}

var profileShowCmd = &cobra.Command{
	Use:   "show [profile-id]",
	Short: "Show a profile with secrets redacted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id := a.store.ActiveID()
		if len(args) == 1 {
			id = args[0]
		}
		p, ok := a.store.Get(id)
		if !ok {
			if id == "" {
				return internal.ErrNoActiveProfile
			}
			return fmt.Errorf("%w: %s", internal.ErrProfileNotFound, id)
		}
		writeProfile(cmd.OutOrStdout(), id, p, a.store.LastActiveChat(id))
		return nil
	},
}

func writeProfile(w io.Writer, id string, p internal.Profile, lastChat string) {
	_, _ = fmt.Fprintf(w, "%s %s\n", titleStyle.Render(p.Name), idStyle.Render(id))
	_, _ = fmt.Fprintf(w, "  API key:     %s\n", internal.Redact(p.APIKey))
	_, _ = fmt.Fprintf(w, "  Credentials: %s\n", credentialSummary(p))
	_, _ = fmt.Fprintf(w, "  Chats:       %d\n", len(p.ChatIDs))
	for _, chat := range p.ChatIDs {
		marker := " "
		if chat == lastChat {
			marker = activeStyle.Render("*")
		}
		_, _ = fmt.Fprintf(w, "    %s %s\n", marker, chat)
	}
}

// credentialSummary describes how complete a profile's credentials are
func credentialSummary(p internal.Profile) string {
	auth, err := internal.ComposeAuth(p)
	if err != nil {
		var incomplete *internal.CredentialIncompleteError
		if errors.As(err, &incomplete) {
			return "unusable, missing " + strings.Join(incomplete.Missing, ", ")
		}
		return "unusable: " + err.Error()
	}
	if missing := auth.Missing(internal.LevelFull); len(missing) > 0 {
		return "partial, missing " + strings.Join(missing, ", ")
	}
	return "complete"
}

var profileSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Create or update a profile",
	Long: `Create or update a profile and make it active.

Without --id (or with --new) a new profile is created. With --id, flags that
are not given keep the stored values. --auth-file reads the auth JSON from a
file, or from stdin when the value is "-". An example_chat_id in the auth
JSON is added to the chat list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id := strings.TrimSpace(profileSaveID)
		if profileSaveNew {
			id = ""
		}

		var existing internal.Profile
		if id != "" {
			existing, _ = a.store.Get(id)
		}

		name := existing.Name
		if cmd.Flags().Changed("name") {
			name = profileSaveName
		}
		apiKey := existing.APIKey
		if cmd.Flags().Changed("api-key") {
			apiKey = profileSaveAPIKey
		}
		chats := existing.ChatIDs
		if cmd.Flags().Changed("chats") {
			chats = internal.SplitChatIDs(profileSaveChats)
		}

		authInfo := existing.AuthInfo
		if profileSaveAuth != "" {
			blob, err := readInput(cmd.InOrStdin(), profileSaveAuth)
			if err != nil {
				return err
			}
			authInfo, chats, err = internal.PrepareAuthBlob(string(blob), chats)
			if err != nil {
				return err
			}
		}

		savedID, err := a.store.Save(id, name, apiKey, authInfo, chats)
		if err != nil {
			return err
		}
		internal.PrintSuccess(fmt.Sprintf("Saved profile %q (%s)", strings.TrimSpace(name), savedID))
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <profile-id>",
	Short: "Make a profile active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.SetActive(args[0]); err != nil {
			return err
		}
		p, _ := a.store.Get(args[0])
		internal.PrintSuccess(fmt.Sprintf("Active profile: %s", p.Name))
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <profile-id>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p, ok := a.store.Get(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", internal.ErrProfileNotFound, args[0])
		}
		if err := a.store.Delete(args[0]); err != nil {
			return err
		}
		internal.PrintSuccess(fmt.Sprintf("Deleted profile %q", p.Name))
		return nil
	},
}

var profileImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import profiles from an exported JSON file (\"-\" for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		blob, err := readInput(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		n, err := a.store.Import(blob)
		if err != nil {
			return err
		}
		if n == 0 {
			internal.PrintWarning("No valid profiles found in the file")
			return nil
		}
		internal.PrintSuccess(fmt.Sprintf("Imported %d profile(s)", n))
		return nil
	},
}

var profileExportCmd = &cobra.Command{
	Use:   "export [profile-id]",
	Short: "Export a profile, or all profiles with --all",
	Long: `Export profiles as JSON in the format 'profile import' reads.

The file is written to --out (a directory, or "-" for stdout) under the name
feishu_ark_profiles_<name>.json, or feishu_ark_profiles_all_profiles.json.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var (
			data []byte
			name string
		)
		if profileExportAll {
			if a.store.Len() == 0 {
				return errors.New("no profiles to export")
			}
			data, err = a.store.ExportAll()
			name = a.store.ExportFileName("")
		} else {
			id := a.store.ActiveID()
			if len(args) == 1 {
				id = args[0]
			}
			if id == "" {
				return internal.ErrNoActiveProfile
			}
			data, err = a.store.Export(id)
			name = a.store.ExportFileName(id)
		}
		if err != nil {
			return err
		}

		if profileExportOut == "-" {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		}
		path := filepath.Join(profileExportOut, name)
		if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		internal.PrintSuccess(fmt.Sprintf("Exported to %s", path))
		return nil
	},
}

// readInput reads a file, or stdin when path is "-"
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileListCmd, profileShowCmd, profileSaveCmd, profileUseCmd,
		profileDeleteCmd, profileImportCmd, profileExportCmd)

	profileSaveCmd.Flags().StringVar(&profileSaveID, "id", "", "Profile id to update (default: create a new profile)")
	profileSaveCmd.Flags().BoolVar(&profileSaveNew, "new", false, "Always create a new profile")
	profileSaveCmd.Flags().StringVar(&profileSaveName, "name", "", "Profile name")
	profileSaveCmd.Flags().StringVar(&profileSaveAPIKey, "api-key", "", "Relay service API key")
	profileSaveCmd.Flags().StringVar(&profileSaveAuth, "auth-file", "", "File with the auth JSON (\"-\" for stdin)")
	profileSaveCmd.Flags().StringVar(&profileSaveChats, "chats", "", "Chat ids, comma or newline separated")

	profileExportCmd.Flags().BoolVar(&profileExportAll, "all", false, "Export all profiles")
	profileExportCmd.Flags().StringVarP(&profileExportOut, "out", "o", ".", "Output directory, or - for stdout")
}
