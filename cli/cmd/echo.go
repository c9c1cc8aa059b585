/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// echoCmd represents the echo command
var echoCmd = &cobra.Command{
	Use:               "echo <text> [room]",
	Aliases:           []string{"send"},
	Short:             "Sends one message to a room.",
	Long:              `Joins the room as your configured username, sends the text and leaves.`,
	Args:              cobra.RangeArgs(1, 2),
	ValidArgsFunction: RoomCompletionFunc,
	Run: func(cmd *cobra.Command, args []string) {
		text := args[0]
		room, err := roomArg(args, 1)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		sess, err := openSession(ctx, room, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error joining #%s: %v\n", room, err)
			return
		}
		defer sess.CloseSend()

		if err := sess.Chat(room, text); err != nil {
			fmt.Fprintf(os.Stderr, "Error sending to #%s: %v\n", room, err)
			return
		}
		if err := awaitAck(sess, "chat", nil); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	},
}

func init() {
	rootCmd.AddCommand(echoCmd)
}
