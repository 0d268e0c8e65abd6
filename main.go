package main

import (
	"os"

	"webhook-relay/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
