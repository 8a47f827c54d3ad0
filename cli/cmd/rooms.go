package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marketchat/marketchat-go/marketchat"

	"github.com/spf13/cobra"
)

// roomsCmd lists the rooms the authenticated user participates in.
var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Lists your chat rooms.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		loader := marketchat.NewDirectoryLoader(restClient, cliLogger())
		rooms := loader.Load(ctx)
		if len(rooms) == 0 {
			fmt.Println("no rooms")
			return
		}
		for _, room := range rooms {
			line := fmt.Sprintf("%-8s %-24s %s", room.ID, room.Name, strings.Join(room.Participants, ","))
			if room.LastMessage != nil {
				line += fmt.Sprintf("  | %s: %s", room.LastMessage.SenderName, room.LastMessage.Content)
			}
			fmt.Println(line)
		}

		counts, err := restClient.UnreadCounts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unread counts unavailable: %v\n", err)
			return
		}
		for id, n := range counts {
			if n > 0 {
				fmt.Printf("room %s: %d unread\n", id, n)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}
