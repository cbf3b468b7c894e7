package main

import "github.com/brandon/mailcore/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
