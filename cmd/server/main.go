package main

import (
	"os"

	"github.com/code-100-precent/LingCore/cmd/root"
	_ "github.com/code-100-precent/LingCore/cmd/serve"
)

func main() {
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
