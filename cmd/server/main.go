package main

import (
	"context"
	"log"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}
