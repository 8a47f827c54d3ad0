package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marketchat/marketchat-go/marketchat"

	"github.com/spf13/cobra"
)

var sendWait time.Duration

// sendCmd connects, selects a room, sends one message, and waits briefly
// for the server echo before disconnecting.
var sendCmd = &cobra.Command{
	Use:   "send <room-id> <message...>",
	Short: "Sends a single message to a room.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, ok := marketchat.ParseServerRoomID(args[0])
		if !ok {
			return fmt.Errorf("invalid room id %q", args[0])
		}
		content := strings.Join(args[1:], " ")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		session := marketchat.NewSession(sessionConfig(), sessionIdentity())
		session.SetLogger(cliLogger())

		echoed := make(chan struct{}, 1)
		session.OnMessage(func(msg marketchat.Message) {
			if msg.RoomID == id && msg.Content == content {
				select {
				case echoed <- struct{}{}:
				default:
				}
			}
		})

		if err := session.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer session.Disconnect()

		if err := session.SelectRoom(ctx, id); err != nil {
			return fmt.Errorf("select room: %w", err)
		}
		if err := session.Send(content); err != nil {
			return fmt.Errorf("send: %w", err)
		}

		select {
		case <-echoed:
			fmt.Println("delivered")
		case <-time.After(sendWait):
			fmt.Println("sent (no echo within wait window)")
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVar(&sendWait, "wait", 3*time.Second, "how long to wait for the server echo")
}
