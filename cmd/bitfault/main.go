package main

import "github.com/OpenTraceLab/bitfault/cmd/bitfault/cmd"

func main() {
	cmd.Execute()
}
