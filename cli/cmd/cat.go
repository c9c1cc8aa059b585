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

var (
	historyLimit  int
	historyBefore int64
)

// catCmd represents the cat command
var catCmd = &cobra.Command{
	Use:               "cat [room]",
	Aliases:           []string{"history"},
	Short:             "Prints a room's message history.",
	Long:              `Prints stored messages of a room, oldest first. Use --before to page back.`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: RoomCompletionFunc,
	Run: func(cmd *cobra.Command, args []string) {
		room, err := roomArg(args, 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		msgs, err := lobbyClient.History(ctx, rpc.HistoryRequest{Room: room, Limit: historyLimit, BeforeID: historyBefore})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading #%s: %v\n", room, err)
			return
		}
		printMessages(os.Stdout, msgs)
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
	catCmd.Flags().IntVarP(&historyLimit, "lines", "n", 50, "Number of messages to print")
	catCmd.Flags().Int64Var(&historyBefore, "before", 0, "Only messages older than this message id")
}
