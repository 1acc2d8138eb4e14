package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/server"
)

const (
	serviceName    = "Employee MCP Server"
	serviceVersion = "1.0.0"
)

// app holds the process-wide handles created during startup. Route handlers
// receive it explicitly; nothing here mutates after startup succeeds.
type app struct {
	config       *Config
	client       *upstreamClient
	gateway      ToolGateway
	mcpServer    *server.MCPServer
	pingInterval time.Duration
}

// newApp runs the startup sequence: load the interface description, build the
// upstream client and tool gateway, then smoke-test upstream reachability.
// The probe failing is degraded-but-running, not fatal, unless configured
// otherwise.
func newApp(config *Config) (*app, error) {
	log.Printf("<startup> starting %s", serviceName)
	log.Printf("<startup> port: %d", config.Port)
	log.Printf("<startup> API base URL: %s", config.BaseURL)

	spec, err := loadOpenAPISpec(config.SpecDir)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI spec: %w", err)
	}

	client := newUpstreamClient(config.BaseURL, config.APIToken)
	log.Printf("<startup> HTTP client created")

	gateway, err := newOpenAPIGateway(spec, client)
	if err != nil {
		client.close()
		return nil, fmt.Errorf("build tool gateway: %w", err)
	}
	log.Printf("<startup> tool gateway initialized with %d tools", len(gateway.Tools()))

	a := &app{
		config:       config,
		client:       client,
		gateway:      gateway,
		mcpServer:    newMCPServer(gateway),
		pingInterval: config.pingInterval(),
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := client.probe(probeCtx); err != nil {
		if config.Options.PanicIfUnreachable.OrElse(false) {
			client.close()
			return nil, fmt.Errorf("API connection test failed: %w", err)
		}
		log.Printf("<startup> API connection test failed: %v", err)
		log.Printf("<startup> server will start anyway, but API calls may fail")
	} else {
		log.Printf("<startup> API connection test successful")
	}

	log.Printf("<startup> server is ready to accept connections")
	return a, nil
}

// shutdown releases the upstream pool. It runs only after the HTTP surface
// has stopped accepting connections, and is safe after a partial startup.
func (a *app) shutdown() {
	if a == nil {
		return
	}
	log.Printf("<shutdown> shutting down server")
	a.client.close()
	log.Printf("<shutdown> complete")
}
