// Command entitymap edits an entity database from the shell.
package main

import "github.com/mesh-intelligence/entitymap/internal/cli"

func main() {
	cli.Execute()
}
