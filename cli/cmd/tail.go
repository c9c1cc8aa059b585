/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/ponyo877/lobby/rpc"
	"github.com/spf13/cobra"
)

var (
	follow    bool
	tailLines int
)

// tailCmd represents the tail command
var tailCmd = &cobra.Command{
	Use:   "tail [-f] [room]",
	Short: "Prints the latest messages of a room.",
	Long: `Prints the last messages of a room. With -f, joins the room and keeps
printing what is said until interrupted.`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: RoomCompletionFunc,
	Run: func(cmd *cobra.Command, args []string) {
		room, err := roomArg(args, 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		if !follow {
			qctx, qcancel := context.WithTimeout(ctx, time.Second*10)
			defer qcancel()
			msgs, err := lobbyClient.History(qctx, rpc.HistoryRequest{Room: room, Limit: tailLines})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading #%s: %v\n", room, err)
				return
			}
			printMessages(os.Stdout, msgs)
			return
		}

		sess, err := openSession(ctx, room, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error joining #%s: %v\n", room, err)
			return
		}
		defer sess.CloseSend()

		for {
			f, err := sess.Recv()
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error receiving from #%s: %v\n", room, err)
				return
			}
			if f.Type == "snapshot" {
				continue
			}
			if inRoom(f, room) {
				printFrame(os.Stdout, f)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new messages")
	tailCmd.Flags().IntVarP(&tailLines, "lines", "n", 20, "Number of messages to print")
}
