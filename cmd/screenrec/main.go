package main

import (
	"os"

	"go2tv.app/screenrec/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
