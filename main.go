package main

import "github.com/mihaisavezi/claude-code-bridge/cmd"

func main() {
	cmd.Execute()
}
