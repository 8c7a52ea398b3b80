package main

import "github.com/kozaktomas/lens-cleaner/cmd"

func main() {
	cmd.Execute()
}
