package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/ponyo877/lobby/rpc"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"
)

// typingEvery is how often a typing notice is repeated while the input changes.
const typingEvery = 3 * time.Second

var chatCmd = &cobra.Command{
	Use:     "chat [room]",
	Aliases: []string{"vim"},
	Short:   "Starts a chat session in a tview-based interface",
	Long: `Joins a room and opens an interactive chat window.
Type messages at the bottom and see the room above.
"/join <room>" moves to another room, "/quit" or Ctrl+C exits.`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: RoomCompletionFunc,
	Run: func(cmd *cobra.Command, args []string) {
		room, err := roomArg(args, 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		userName, err := currentUsername()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		if err := runChatUI(userName, room); err != nil {
			fmt.Fprintf(os.Stderr, "Chat UI error: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChatUI(userName, room string) error {
	app := tview.NewApplication()

	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true).
		ScrollToEnd()
	textView.SetBorder(true).SetTitle(" #" + room + " ")

	inputField := tview.NewInputField().
		SetLabel(userName + " ❯❯ ").
		SetFieldWidth(0).
		SetAcceptanceFunc(tview.InputFieldMaxLength(2000))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(textView, 0, 1, false).
		AddItem(inputField, 1, 0, true)

	app.SetRoot(flex, true).SetFocus(inputField)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Frames before the join ack are written before the UI starts.
	sess, err := openSession(ctx, room, func(f rpc.Frame) {
		writeFrame(textView, f)
	})
	if err != nil {
		return fmt.Errorf("failed to join #%s: %w", room, err)
	}
	defer sess.CloseSend()
	fmt.Fprintf(textView, "[green]Welcome to #%s! You are %s. (Ctrl+C to exit)\n", room, userName)

	// current is only touched on the UI goroutine.
	current := room
	go func() {
		for {
			f, err := sess.Recv()
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				app.QueueUpdateDraw(func() {
					fmt.Fprintln(textView, "[red]Stream closed by server.")
				})
				return
			}
			if err != nil {
				app.QueueUpdateDraw(func() {
					fmt.Fprintf(textView, "[red]Error receiving message: %v\n", tview.Escape(err.Error()))
				})
				return
			}
			app.QueueUpdateDraw(func() {
				if f.Type == "ack" && (f.Text == "join" || f.Text == "leave") {
					current = f.Room
					textView.SetTitle(" #" + current + " ")
				}
				if inRoom(f, current) {
					writeFrame(textView, f)
					textView.ScrollToEnd()
				}
			})
		}
	}()

	var lastTyping time.Time
	inputField.SetChangedFunc(func(text string) {
		if text == "" || strings.HasPrefix(text, "/") || time.Since(lastTyping) < typingEvery {
			return
		}
		lastTyping = time.Now()
		_ = sess.Typing(current, true)
	})

	inputField.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(inputField.GetText())
		inputField.SetText("")
		if text == "" {
			return
		}

		var err error
		switch fields := strings.Fields(text); {
		case fields[0] == "/quit":
			cancel()
			app.Stop()
			return
		case fields[0] == "/join" && len(fields) == 2:
			err = sess.Join(strings.TrimPrefix(fields[1], "#"))
		case fields[0] == "/leave":
			err = sess.Leave()
		default:
			err = sess.Chat(current, text)
			lastTyping = time.Time{}
		}
		if err != nil {
			fmt.Fprintf(textView, "[red]Failed to send: %v\n", tview.Escape(err.Error()))
		}
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			cancel()
			app.Stop()
			return nil
		}
		return event
	})

	return app.Run()
}

func writeFrame(w io.Writer, f rpc.Frame) {
	ts := f.Timestamp.Local().Format("15:04:05")
	switch f.Type {
	case "chat":
		fmt.Fprintf(w, "[white][%s] [blue]%s[white]: %s\n", ts, tview.Escape(f.Sender), tview.Escape(f.Text))
	case "snapshot":
		snap, err := f.Snapshot()
		if err != nil {
			fmt.Fprintf(w, "[red]%s\n", tview.Escape(err.Error()))
			return
		}
		for _, m := range snap.History {
			fmt.Fprintf(w, "[gray][%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), tview.Escape(m.Author), tview.Escape(m.Text))
		}
		fmt.Fprintf(w, "[green]In #%s: %s\n", f.Room, tview.Escape(strings.Join(snap.Members, ", ")))
	case "joined", "left", "system", "announcement":
		fmt.Fprintf(w, "[yellow][%s] * %s\n", ts, tview.Escape(f.Text))
	case "reaction":
		fmt.Fprintf(w, "[gray][%s] %s reacted to #%d: %s\n", ts, tview.Escape(f.Sender), f.MessageID, tview.Escape(f.Text))
	case "error":
		fmt.Fprintf(w, "[red][%s] ! %s\n", ts, tview.Escape(f.Text))
	}
}
