package main

import (
	"os"

	"github.com/octacian/schema-migrate/internal/command"
)

func main() {
	os.Exit(command.Run(os.Args[1:]))
}
