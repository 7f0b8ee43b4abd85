package main

import "github.com/safeguard-project/safeguard/internal/cli"

func main() {
	cli.Execute()
}
