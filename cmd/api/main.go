package main

import (
	"log"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("wallet-backend: %v", err)
	}
}
