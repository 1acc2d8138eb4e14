package main

import (
	"flag"
	"log"
)

func main() {
	conf := flag.String("conf", "", "path to optional JSON config file")
	flag.Parse()

	config, err := loadConfig(*conf)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	application, err := newApp(config)
	if err != nil {
		log.Fatalf("Error during startup: %v", err)
	}

	serveErr := startHTTPServer(application)
	application.shutdown()
	if serveErr != nil {
		log.Fatalf("Server error: %v", serveErr)
	}
}
