package main

import "github.com/joshdurbin/fitnerd/internal/cmd"

func main() {
	cmd.Execute()
}
