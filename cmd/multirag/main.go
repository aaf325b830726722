package main

import (
	"github.com/joho/godotenv"

	"multirag/internal/cli"
)

func main() {
	// a missing .env is fine; real environment variables always win
	_ = godotenv.Load()
	cli.Execute()
}
