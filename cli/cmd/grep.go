/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ponyo877/lobby/rpc"
	"github.com/spf13/cobra"
)

// grepCmd represents the grep command
var grepCmd = &cobra.Command{
	Use:               "grep <pattern> [room]",
	Short:             "Searches a room's messages.",
	Long:              `Searches the messages of a room (the current one by default) for a regular expression, newest first.`,
	Args:              cobra.RangeArgs(1, 2),
	ValidArgsFunction: RoomCompletionFunc,
	Run: func(cmd *cobra.Command, args []string) {
		pattern := args[0]
		room, err := roomArg(args, 1)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		msgs, err := lobbyClient.Search(ctx, rpc.SearchRequest{Room: room, Pattern: pattern})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error searching '%s' in #%s: %v\n", pattern, room, err)
			return
		}
		for _, msg := range msgs {
			fmt.Println(msg.Text)
		}
	},
}

func init() {
	rootCmd.AddCommand(grepCmd)
}
