package main

import "github.com/asterlab/skypipe/cmd/skypipe/cmd"

func main() {
	cmd.Execute()
}
