package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyPage int
	historySize int
)

// historyCmd prints one page of a room's message history.
var historyCmd = &cobra.Command{
	Use:   "history <room-id>",
	Short: "Shows message history for a room.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		roomID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid room id %q\n", args[0])
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		page, err := restClient.GetMessages(ctx, roomID, historyPage, historySize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error fetching history: %v\n", err)
			return
		}
		for _, msg := range page.Messages {
			fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format(time.RFC3339), msg.SenderName, msg.Content)
		}
		if page.HasMore {
			fmt.Printf("-- more available (page %d of %d messages total)\n", historyPage, page.TotalElements)
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyPage, "page", 0, "page number")
	historyCmd.Flags().IntVar(&historySize, "size", 50, "messages per page")
}
