package main

import (
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
)

// annotationsForMethod derives tool annotations from the HTTP method backing
// a generated tool. Every tool talks to the remote API, so the open-world
// hint is always set.
func annotationsForMethod(method string) mcp.ToolAnnotation {
	readOnly := method == http.MethodGet
	destructive := method == http.MethodDelete
	idempotent := method == http.MethodGet || method == http.MethodPut || method == http.MethodDelete
	openWorld := true
	return mcp.ToolAnnotation{
		ReadOnlyHint:    &readOnly,
		DestructiveHint: &destructive,
		IdempotentHint:  &idempotent,
		OpenWorldHint:   &openWorld,
	}
}
