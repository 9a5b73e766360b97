package main

import (
	"os"

	"github.com/r9s-ai/openclash-overwrite/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
