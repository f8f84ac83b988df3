package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/chatark/internal"
	"github.com/iksnae/chatark/internal/export"
	"github.com/spf13/cobra"
)

var (
	watchChat   string
	watchRecord string
)

var (
	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	remoteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	systemInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	systemErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196")).
				Bold(true)

	statusStyles = map[internal.ConnectionStatus]lipgloss.Style{
		internal.StatusConnected:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		internal.StatusConnecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		internal.StatusDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

const watchHelp = `Commands:
  /chat <id>      switch to a chat
  /add <id>       add a chat to the active profile and switch to it
  /profile <id>   switch to another profile
  /profiles       list profiles
  /chats          list chats of the active profile
  /clear          close the stream and leave the chat
  /curl           print request diagnostics for the current chat
  /status         print the session state
  /quit           exit`

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live messages of a chat",
	Long: `Load a chat's history and stream its live messages.

Without --chat the active profile's last used chat (or its first chat) is
opened. While watching, type /help for commands. Press Ctrl-C to exit.
With --record, everything shown is also written to a transcript file whose
extension picks the format (.jsonl, .json, .yaml or .md).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Verbose {
			internal.SetLogLevel(internal.LogLevelWarn)
		}

		var recorder *transcriptRecorder
		if watchRecord != "" {
			exporter, err := export.NewExporter(strings.TrimPrefix(filepath.Ext(watchRecord), "."))
			if err != nil {
				return err
			}
			recorder = &transcriptRecorder{exporter: exporter, path: watchRecord}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		view := &messageView{w: cmd.OutOrStdout(), color: internal.IsTerminal(os.Stdout)}
		unsubscribe := a.controller.Subscribe(func(e internal.Event) {
			view.handle(e)
			if recorder != nil {
				recorder.handle(e)
			}
		})
		defer unsubscribe()

		if a.store.Len() == 0 {
			internal.PrintWarning("No profiles yet. Create one with 'chatark profile save' first.")
			return nil
		}
		if watchChat != "" {
			if err := a.controller.Focus(""); err != nil && !errors.Is(err, internal.ErrNoActiveChat) {
				return err
			}
			err = a.controller.SwitchChat(watchChat)
		} else {
			err = a.controller.Start()
		}
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		runWatchLoop(ctx, a, cmd.InOrStdin(), view)

		a.controller.Close()
		if recorder != nil {
			if err := recorder.write(a); err != nil {
				return err
			}
		}
		return nil
	},
}

// runWatchLoop reads commands until ctx is done, input ends or /quit
func runWatchLoop(ctx context.Context, a *app, in io.Reader, view *messageView) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				// stdin closed: keep streaming until interrupted
				<-ctx.Done()
				return
			}
			quit, err := handleWatchCommand(a, line, view)
			if err != nil {
				view.printf("%s\n", systemErrorStyle.Render("Error: "+err.Error()))
			}
			if quit {
				return
			}
		}
	}
}

// handleWatchCommand runs one line of watch input and reports whether to exit
func handleWatchCommand(a *app, line string, view *messageView) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		view.printf("%s\n", systemInfoStyle.Render("Sending messages is not supported here. Type /help for commands."))
		return false, nil
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "help", "h", "?":
		view.printf("%s\n", watchHelp)
	case "chat":
		if arg == "" {
			return false, errors.New("usage: /chat <chat-id>")
		}
		return false, a.controller.SwitchChat(arg)
	case "add":
		if arg == "" {
			return false, errors.New("usage: /add <chat-id>")
		}
		return false, a.controller.AddChatID(arg)
	case "profile":
		if arg == "" {
			return false, errors.New("usage: /profile <profile-id>")
		}
		return false, a.controller.SelectProfile(arg)
	case "profiles":
		view.write(func(w io.Writer) { writeProfileList(w, a.store, a.store.List()) })
	case "chats":
		id, p, err := a.activeProfile()
		if err != nil {
			return false, err
		}
		last := a.store.LastActiveChat(id)
		view.write(func(w io.Writer) {
			for _, chat := range p.ChatIDs {
				marker := " "
				if chat == last {
					marker = "*"
				}
				_, _ = fmt.Fprintf(w, "%s %s\n", marker, chat)
			}
		})
	case "clear":
		a.controller.ClearChat()
	case "curl":
		diag, err := a.controller.Diagnostics(cfg.ExportCount)
		if err != nil {
			return false, err
		}
		view.write(func(w io.Writer) { writeDiagnostics(w, diag) })
	case "status":
		snap := a.controller.Snapshot()
		view.printf("profile=%s chat=%s state=%s status=%s\n", snap.ProfileID, snap.ChatID, snap.State, snap.Status)
	default:
		return false, fmt.Errorf("unknown command /%s (type /help)", name)
	}
	return false, nil
}

// messageView renders controller events as terminal lines
type messageView struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

func (v *messageView) printf(format string, args ...interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, _ = fmt.Fprintf(v.w, format, args...)
}

func (v *messageView) write(fn func(io.Writer)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v.w)
}

func (v *messageView) handle(e internal.Event) {
	switch e.Kind {
	case internal.EventMessage:
		v.printf("%s\n", v.render(e.Message))
	case internal.EventStatus:
		v.printf("%s\n", v.renderStatus(e))
	case internal.EventReset:
		v.printf("%s\n", headerStyle.Render("Chat "+e.ChatID))
	}
}

func (v *messageView) render(msg internal.Message) string {
	stamp := ""
	if !msg.Time.IsZero() {
		stamp = msg.Time.Local().Format("15:04:05") + " "
	}

	if !v.color {
		return fmt.Sprintf("%s%s: %s", stamp, msg.SenderName, msg.Content)
	}

	stamp = timeStyle.Render(stamp)
	switch msg.Origin {
	case internal.OriginSystemInfo:
		return stamp + systemInfoStyle.Render(msg.SenderName+": "+msg.Content)
	case internal.OriginSystemError:
		return stamp + systemErrorStyle.Render(msg.SenderName+": "+msg.Content)
	case internal.OriginUser:
		return stamp + userStyle.Render(msg.SenderName+":") + " " + msg.Content
	default:
		return stamp + remoteStyle.Render(msg.SenderName+":") + " " + msg.Content
	}
}

func (v *messageView) renderStatus(e internal.Event) string {
	text := fmt.Sprintf("● %s (%s)", e.Status, e.State)
	if !v.color {
		return text
	}
	return statusStyles[e.Status].Render(text)
}

// transcriptRecorder collects the messages shown during watch
type transcriptRecorder struct {
	mu       sync.Mutex
	exporter export.Exporter
	path     string
	chatID   string
	messages []internal.Message
}

func (r *transcriptRecorder) handle(e internal.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e.Kind {
	case internal.EventReset:
		r.chatID = e.ChatID
	case internal.EventMessage:
		r.messages = append(r.messages, e.Message)
	}
}

func (r *transcriptRecorder) write(a *app) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := ""
	if _, p, err := a.activeProfile(); err == nil {
		name = p.Name
	}
	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", r.path, err)
	}
	if err := r.exporter.Export(export.NewTranscript(r.chatID, name, r.messages), f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	internal.PrintSuccess(fmt.Sprintf("Recorded %d message(s) to %s", len(r.messages), r.path))
	return nil
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchChat, "chat", "c", "", "Chat id to open (default: the active profile's last chat)")
	watchCmd.Flags().StringVar(&watchRecord, "record", "", "Write a transcript of the session to this file")
}
