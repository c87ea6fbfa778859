// Command agentgov runs the runtime governance server and its admin CLI.
package main

import "github.com/ppiankov/agentgov/internal/cli"

func main() {
	cli.Execute()
}
