package main

import (
	"log"

	approuters "ifindlife/internal/app_routers"
	"ifindlife/internal/configuration"
)

func main() {
	container, err := configuration.BuildContainer()
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// StartServer closes the container during graceful shutdown
	approuters.StartServer(container)
}
