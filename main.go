package main

import (
	"os"

	"github.com/LiamSnow/liamsnow.com/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
