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

	"github.com/ponyo877/lobby/rpc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// lsCmd represents the ls command
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Lists rooms.",
	Long:  `Lists the open rooms on the server with their member count and restrictions.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		rooms, err := lobbyClient.Rooms(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error calling Rooms: %v\n", err)
			return
		}
		if len(rooms) == 0 {
			fmt.Println("No rooms.")
			return
		}

		current := viper.GetString(currentRoomKey)
		for _, r := range rooms {
			marker := " "
			if r.Name == current {
				marker = "*"
			}
			fmt.Printf("%s %-20s %3d  %s\n", marker, r.Name, r.Members, roomFlags(r))
		}
	},
}

func roomFlags(r rpc.RoomFrame) string {
	var flags []string
	if r.Locked {
		flags = append(flags, "locked")
	}
	if r.StaffOnly {
		flags = append(flags, "staff")
	}
	if r.VIPOnly {
		flags = append(flags, "vip")
	}
	if r.MinLevel > 0 {
		flags = append(flags, fmt.Sprintf("level>=%d", r.MinLevel))
	}
	if r.SlowModeMS > 0 {
		flags = append(flags, "slow:"+(time.Duration(r.SlowModeMS)*time.Millisecond).String())
	}
	return strings.Join(flags, ",")
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
