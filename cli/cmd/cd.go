/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cdCmd represents the cd command
var cdCmd = &cobra.Command{
	Use:   "cd [room]",
	Short: "Changes the current room.",
	Long: `Changes the room the other commands act on when no room is given.
Without an argument it goes back to "main".`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: RoomCompletionFunc,
	Run: func(cmd *cobra.Command, args []string) {
		target := "main"
		if len(args) == 1 {
			target = strings.TrimPrefix(args[0], "#")
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		rooms, err := lobbyClient.Rooms(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error calling Rooms: %v\n", err)
			return
		}
		found := false
		for _, r := range rooms {
			if r.Name == target {
				found = true
				break
			}
		}
		if !found {
			fmt.Fprintf(os.Stderr, "Room does not exist: %s\n", target)
			return
		}

		viper.Set(currentRoomKey, target)
		if err := saveConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "Error writing config file:", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(cdCmd)
}
