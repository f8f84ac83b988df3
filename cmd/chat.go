package cmd

import (
	"fmt"

	"github.com/iksnae/chatark/internal"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:     "chat",
	Aliases: []string{"chats"},
	Short:   "Manage the chat ids of the active profile",
}

var chatListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat ids of the active profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, p, err := a.activeProfile()
		if err != nil {
			return err
		}
		if len(p.ChatIDs) == 0 {
			internal.PrintInfo(fmt.Sprintf("Profile %q has no chats yet. Add one with 'chatark chat add <chat-id>'.", p.Name))
			return nil
		}
		last := a.store.LastActiveChat(id)
		w := cmd.OutOrStdout()
		for _, chat := range p.ChatIDs {
			marker := " "
			if chat == last {
				marker = activeStyle.Render("*")
			}
			_, _ = fmt.Fprintf(w, "%s %s\n", marker, chat)
		}
		return nil
	},
}

var chatAddCmd = &cobra.Command{
	Use:   "add <chat-id>...",
	Short: "Add chat ids to the active profile",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, p, err := a.activeProfile()
		if err != nil {
			return err
		}
		for _, arg := range args {
			for _, chat := range internal.SplitChatIDs(arg) {
				added, err := a.store.AddChatID(id, chat)
				if err != nil {
					return err
				}
				if added {
					internal.PrintSuccess(fmt.Sprintf("Added chat %s to %q", chat, p.Name))
				} else {
					internal.PrintInfo(fmt.Sprintf("Chat %s is already in %q", chat, p.Name))
				}
				if err := a.store.SetLastActiveChat(id, chat); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

var chatUseCmd = &cobra.Command{
	Use:   "use <chat-id>",
	Short: "Make a chat the default for watch, history and analyze",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, p, err := a.activeProfile()
		if err != nil {
			return err
		}
		if !p.HasChat(args[0]) {
			return fmt.Errorf("chat %s is not in profile %q (add it with 'chatark chat add')", args[0], p.Name)
		}
		if err := a.store.SetLastActiveChat(id, args[0]); err != nil {
			return err
		}
		internal.PrintSuccess(fmt.Sprintf("Active chat: %s", args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.AddCommand(chatListCmd, chatAddCmd, chatUseCmd)
}
