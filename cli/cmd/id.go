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

// idCmd represents the id command
var idCmd = &cobra.Command{
	Use:     "id [username]",
	Aliases: []string{"who"},
	Short:   "Prints a user's presence.",
	Long:    `Prints whether a user (yourself by default) is online and which room they are in.`,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var user string
		if len(args) == 1 {
			user = args[0]
		} else {
			name, err := currentUsername()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return
			}
			user = name
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		p, err := lobbyClient.Presence(ctx, user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting presence of %s: %v\n", user, err)
			return
		}
		fmt.Printf("User:      %s\n", p.User)
		fmt.Printf("Status:    %s\n", p.Status)
		if p.Room != "" {
			fmt.Printf("Room:      #%s\n", p.Room)
		}
		if !p.LastSeen.IsZero() {
			fmt.Printf("Last seen: %s\n", p.LastSeen.Local().Format(time.DateTime))
		}
	},
}

var typingCmd = &cobra.Command{
	Use:               "typing [room]",
	Short:             "Lists who is typing in a room.",
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

		users, err := lobbyClient.Typing(ctx, room)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting typing users of #%s: %v\n", room, err)
			return
		}
		for _, u := range users {
			fmt.Println(u)
		}
	},
}

func init() {
	rootCmd.AddCommand(idCmd)
	rootCmd.AddCommand(typingCmd)
}
