package main

import "github.com/hospitalos/authz/cmd"

func main() {
	cmd.Execute()
}
