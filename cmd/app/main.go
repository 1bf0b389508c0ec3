package main

import (
	"log"

	"vtt-keyboard/internal/bootstrap"
)

func main() {
	app, err := bootstrap.New(nil)
	if err != nil {
		log.Fatalf("bootstrap app: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("run app: %v", err)
	}
}
