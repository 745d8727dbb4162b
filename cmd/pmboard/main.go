package main

import "pmboard/internal/cli"

func main() {
	cli.Execute()
}
