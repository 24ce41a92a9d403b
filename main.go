package main

import "github.com/ghostkellz/zeke/cmd"

func main() {
	cmd.Execute()
}
