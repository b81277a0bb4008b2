package main

import (
	"github.com/turtacn/obo/cmd/cli"
)

func main() {
	cli.Execute()
}
