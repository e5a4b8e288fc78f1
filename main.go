// Command lodestar is a critical-path project scheduler for the terminal.
package main

import "github.com/ravenhall/lodestar/cmd"

func main() {
	cmd.Execute()
}
