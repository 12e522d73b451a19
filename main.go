package main

import "github.com/jmehdipour/outreach/cmd"

func main() {
	cmd.Execute()
}
