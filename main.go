package main

import "github.com/warden-auth/warden/cmd"

func main() {
	cmd.Execute()
}
