package main

import (
	"os"

	"github.com/tanpawarit/makwenta/cmd"
	_ "github.com/tanpawarit/makwenta/pkg/logger/autoload"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
