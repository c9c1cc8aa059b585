/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/ponyo877/lobby/rpc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
)

var (
	cfgFile           string
	grpcServerAddress string
	lobbyClient       *rpc.Client
	grpcConn          *grpc.ClientConn
)

const (
	usernameKey          = "username"
	currentRoomKey       = "current_room"
	grpcServerAddressKey = "grpc_server_address"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lobby",
	Short: "Client for the lobby chat server.",
	Long: `lobby talks to a lobby chat server over gRPC.

Pick a name with "lobby config <name>", move into a room with "lobby cd <room>"
and then chat, tail or search it. Run without arguments for an interactive shell.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if grpcConn != nil {
			return nil
		}
		conn, err := rpc.Dial(grpcServerAddress)
		if err != nil {
			return fmt.Errorf("did not connect to gRPC server: %w", err)
		}
		grpcConn = conn
		lobbyClient = rpc.NewClient(conn)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer func() {
		if grpcConn != nil {
			grpcConn.Close()
		}
	}()

	// one‑shot
	if len(os.Args) > 1 {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	// REPL
	fmt.Println("entering interactive mode, type 'exit' to quit")
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s ❯❯❯ ", promptRoom())
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		args, err := shellwords.Parse(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "parse error:", err)
			continue
		}
		rootCmd.SetArgs(args)
		_ = rootCmd.Execute()
	}
}

func promptRoom() string {
	if room := viper.GetString(currentRoomKey); room != "" {
		return "#" + room
	}
	return "-"
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lobby.yaml)")
	rootCmd.PersistentFlags().String("username", "", "Name to use in chat sessions")
	rootCmd.PersistentFlags().String("grpc-server", "localhost:50051", "Address of the lobby gRPC server (e.g., localhost:50051)")

	viper.BindPFlag(usernameKey, rootCmd.PersistentFlags().Lookup("username"))
	viper.BindPFlag(grpcServerAddressKey, rootCmd.PersistentFlags().Lookup("grpc-server"))
	viper.SetDefault(grpcServerAddressKey, "localhost:50051")
	viper.SetDefault(currentRoomKey, "main")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".lobby")
	}

	viper.SetEnvPrefix("LOBBY")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}

	grpcServerAddress = viper.GetString(grpcServerAddressKey)
}

// saveConfig persists viper's settings, creating $HOME/.lobby.yaml on first use.
func saveConfig() error {
	if err := viper.WriteConfig(); err == nil {
		return nil
	}
	path := viper.ConfigFileUsed()
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".lobby.yaml")
	}
	return viper.WriteConfigAs(path)
}

func currentUsername() (string, error) {
	name := viper.GetString(usernameKey)
	if name == "" {
		return "", errors.New(`no username set, run "lobby config <name>" or pass --username`)
	}
	return name, nil
}

// roomArg returns args[i] when given, the current room otherwise.
func roomArg(args []string, i int) (string, error) {
	if len(args) > i {
		return strings.TrimPrefix(args[i], "#"), nil
	}
	if room := viper.GetString(currentRoomKey); room != "" {
		return room, nil
	}
	return "", errors.New(`no room given and no current room, run "lobby cd <room>"`)
}

// RoomCompletionFunc completes room names from the server.
func RoomCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if lobbyClient == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	rooms, err := lobbyClient.Rooms(context.Background())
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var names []string
	for _, r := range rooms {
		if strings.HasPrefix(r.Name, toComplete) {
			names = append(names, r.Name)
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
