package main

import "github.com/artouc/ego-graphica/cmd/egographica/cli"

func main() {
	cli.Execute()
}
