package main

import "github.com/ponyo877/lobby/cli/cmd"

func main() {
	cmd.Execute()
}
