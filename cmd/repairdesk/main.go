package main

import (
	"os"

	"github.com/YoshitsuguKoike/repairdesk/internal/interface/cli"
)

func main() {
	os.Exit(cli.Execute())
}
