package main

import (
	"log"

	"metafusion/tracker"
)

func main() {
	if err := tracker.Main(); err != nil {
		log.Fatalf("trackerd: %v", err)
	}
}
