package main

import (
	"os"

	"github.com/OpenSeneca/squadwatch/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
