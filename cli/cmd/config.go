/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config [username]",
	Short: "Gets or sets the name you chat as.",
	Long: `Manages configuration for the lobby client.
If called without arguments, it displays the current configuration.
If called with an argument, it sets the username used for chat sessions.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Printf("Username:     %s\n", viper.GetString(usernameKey))
			fmt.Printf("Current room: %s\n", viper.GetString(currentRoomKey))
			fmt.Printf("Server:       %s\n", viper.GetString(grpcServerAddressKey))
			return
		}

		viper.Set(usernameKey, args[0])
		if err := saveConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "Error writing config file:", err)
			return
		}
		fmt.Printf("Username set to: %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
