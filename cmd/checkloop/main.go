package main

import (
	"github.com/joho/godotenv"
)

func main() {
	// Optional; a missing .env is not an error.
	_ = godotenv.Load()
	Execute()
}
