package main

import (
	"os"

	"github.com/pscheid92/tabconsole/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
