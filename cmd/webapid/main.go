package main

import (
	"log"

	"metafusion/api"
)

func main() {
	if err := api.Main(); err != nil {
		log.Fatalf("webapid: %v", err)
	}
}
