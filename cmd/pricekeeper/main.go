package main

import (
	"os"

	"github.com/solatis/pricekeeper/cmd/pricekeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
