package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/flowberry/internal/app"
	"github.com/relabs-tech/flowberry/internal/config"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to configuration file")
	flag.Parse()

	log.Println("starting flowberry console (MQTT subscriber)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunFlowConsole(config.Get()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
