package main

import (
	"log"

	"github.com/mcp-guardian/guardian/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("guardian failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("guardian exited with error: %v", err)
	}
}
