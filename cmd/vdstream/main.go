package main

import "vdstream/cmd/vdstream/commands"

func main() {
	commands.Execute()
}
