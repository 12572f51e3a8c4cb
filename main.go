package main

import (
	"os"

	"github.com/willemave/news-app-sub001/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
