package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/marketchat/marketchat-go/marketchat"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
)

// openCmd connects a live session and enters an interactive chat loop.
// With a room-id argument the room is opened as a deep link once the
// directory and the connection are ready.
var openCmd = &cobra.Command{
	Use:   "open [room-id]",
	Short: "Opens a live chat session.",
	Long: `Connects to the chat backend and enters an interactive loop. Plain
lines are sent to the selected room; commands start with a slash:

  /rooms            list rooms with unread counters
  /open <room-id>   switch to another room
  /leave <room-id>  leave a room
  /quit             disconnect and exit`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		session := marketchat.NewSession(sessionConfig(), sessionIdentity())
		session.SetLogger(cliLogger())

		session.OnMessage(func(msg marketchat.Message) {
			if sel, ok := session.Store().Selected(); ok && sel == msg.RoomID {
				fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format(time.Kitchen), msg.SenderName, msg.Content)
			} else {
				fmt.Printf("(room %s) %s: %s [%d unread]\n",
					msg.RoomID, msg.SenderName, msg.Content, session.Store().Unread(msg.RoomID))
			}
		})
		session.OnStateChange(func(ev marketchat.StateEvent) {
			if ev.Err != nil {
				fmt.Fprintf(os.Stderr, "connection %s: %v\n", ev.NewState, ev.Err)
				return
			}
			fmt.Fprintf(os.Stderr, "connection %s\n", ev.NewState)
		})
		session.OnError(func(err error) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		})

		if len(args) == 1 {
			target, ok := marketchat.ParseServerRoomID(args[0])
			if !ok {
				return fmt.Errorf("invalid room id %q", args[0])
			}
			session.SetDeepLinkTarget(ctx, target)
		}

		if err := session.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer session.Disconnect()

		fmt.Println("connected; type a message, or /quit to exit")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if done := runSlashCommand(ctx, session, line); done {
					return nil
				}
				continue
			}
			if err := session.Send(line); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
		return scanner.Err()
	},
}

func runSlashCommand(ctx context.Context, session *marketchat.Session, line string) bool {
	words, err := shellwords.Parse(strings.TrimPrefix(line, "/"))
	if err != nil || len(words) == 0 {
		fmt.Fprintln(os.Stderr, "unrecognized command")
		return false
	}
	switch words[0] {
	case "quit", "exit":
		return true
	case "rooms":
		for _, room := range session.Store().Rooms() {
			marker := " "
			if sel, ok := session.Store().Selected(); ok && sel == room.ID {
				marker = "*"
			}
			fmt.Printf("%s %-8s %-24s %d unread\n", marker, room.ID, room.Name, session.Store().Unread(room.ID))
		}
	case "open":
		if len(words) != 2 {
			fmt.Fprintln(os.Stderr, "usage: /open <room-id>")
			return false
		}
		id, ok := marketchat.ParseServerRoomID(words[1])
		if !ok {
			fmt.Fprintf(os.Stderr, "invalid room id %q\n", words[1])
			return false
		}
		if err := session.SelectRoom(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
			return false
		}
		for _, msg := range session.Store().Log(id) {
			fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format(time.Kitchen), msg.SenderName, msg.Content)
		}
	case "leave":
		if len(words) != 2 {
			fmt.Fprintln(os.Stderr, "usage: /leave <room-id>")
			return false
		}
		id, ok := marketchat.ParseServerRoomID(words[1])
		if !ok {
			fmt.Fprintf(os.Stderr, "invalid room id %q\n", words[1])
			return false
		}
		if err := session.LeaveRoom(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "leave failed: %v\n", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command /%s\n", words[0])
	}
	return false
}

func init() {
	rootCmd.AddCommand(openCmd)
}
