package main

import (
	"fmt"
	"os"

	"tipledger/services/tipd"
)

func main() {
	if err := tipd.Main(); err != nil {
		fmt.Fprintf(os.Stderr, "tipd: %v\n", err)
		os.Exit(1)
	}
}
