package main

import "github.com/marketchat/marketchat-go/cli/cmd"

func main() {
	cmd.Execute()
}
