package main

import "github.com/distindex/harvester/cmd"

func main() {
	cmd.Execute()
}
