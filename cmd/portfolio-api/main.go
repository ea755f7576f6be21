package main

import (
	"fmt"
	"os"

	"github.com/aq2208/portfolio-api/cmd/portfolio-api/app"
)

func main() {
	if err := app.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
