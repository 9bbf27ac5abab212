package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/paircal/internal/app"
)

func main() {
	if err := app.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "paircal: %v\n", err)
		os.Exit(1)
	}
}
