package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	specFileName         = "Employee_schema_3.0.json"
	specFileNameFallback = "Employee_schema_3_0.json"
)

type apiParameter struct {
	Name        string
	In          string // "path" or "query"
	Required    bool
	Description string
	Schema      map[string]any
}

// apiOperation is one callable entry derived from a paths.<path>.<method>
// block of the OpenAPI document.
type apiOperation struct {
	Name        string
	Method      string
	Path        string
	Description string
	Parameters  []apiParameter
	BodySchema  map[string]any
}

// loadOpenAPISpec reads the employee schema, trying the primary filename and
// then the legacy fallback, in the configured spec dir, the executable's
// directory, and finally the working directory. A file that exists but does
// not parse is a fatal error, not a reason to keep searching.
func loadOpenAPISpec(specDir string) (map[string]any, error) {
	for _, dir := range specSearchDirs(specDir) {
		for _, name := range []string{specFileName, specFileNameFallback} {
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("read OpenAPI spec %s: %w", path, err)
			}
			var spec map[string]any
			if err := json.Unmarshal(data, &spec); err != nil {
				return nil, fmt.Errorf("parse OpenAPI spec %s: %w", path, err)
			}
			log.Printf("<openapi> spec loaded from %s", path)
			return spec, nil
		}
	}
	return nil, fmt.Errorf("OpenAPI schema not found: tried %s and %s", specFileName, specFileNameFallback)
}

func specSearchDirs(specDir string) []string {
	dirs := make([]string, 0, 3)
	if strings.TrimSpace(specDir) != "" {
		dirs = append(dirs, specDir)
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	return append(dirs, ".")
}

var httpMethods = []string{"get", "put", "post", "delete", "patch"}

// parseOperations walks the paths object and produces one operation per
// declared method, named by operationId when present.
func parseOperations(spec map[string]any) ([]apiOperation, error) {
	paths, _ := spec["paths"].(map[string]any)
	if len(paths) == 0 {
		return nil, errors.New("spec declares no paths")
	}

	pathKeys := make([]string, 0, len(paths))
	for key := range paths {
		pathKeys = append(pathKeys, key)
	}
	sort.Strings(pathKeys)

	operations := make([]apiOperation, 0, len(pathKeys))
	for _, pathKey := range pathKeys {
		item, _ := paths[pathKey].(map[string]any)
		if item == nil {
			continue
		}
		// path-level parameters apply to every method under the path
		shared := parseParameters(item["parameters"])
		for _, method := range httpMethods {
			raw, ok := item[method].(map[string]any)
			if !ok {
				continue
			}
			op := apiOperation{
				Method: strings.ToUpper(method),
				Path:   pathKey,
			}
			if id, _ := raw["operationId"].(string); id != "" {
				op.Name = id
			} else {
				op.Name = method + sanitizePath(pathKey)
			}
			if desc, _ := raw["description"].(string); desc != "" {
				op.Description = desc
			} else if summary, _ := raw["summary"].(string); summary != "" {
				op.Description = summary
			}
			op.Parameters = append(append([]apiParameter{}, shared...), parseParameters(raw["parameters"])...)
			op.BodySchema = requestBodySchema(raw["requestBody"])
			operations = append(operations, op)
		}
	}
	if len(operations) == 0 {
		return nil, errors.New("spec declares no operations")
	}
	return operations, nil
}

func sanitizePath(path string) string {
	replacer := strings.NewReplacer("{", "", "}", "", "/", "_", "-", "_", ".", "_")
	return replacer.Replace(path)
}

func parseParameters(val any) []apiParameter {
	raw, _ := val.([]any)
	if len(raw) == 0 {
		return nil
	}
	params := make([]apiParameter, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		param := apiParameter{}
		param.Name, _ = m["name"].(string)
		if param.Name == "" {
			continue
		}
		param.In, _ = m["in"].(string)
		param.Required, _ = m["required"].(bool)
		param.Description, _ = m["description"].(string)
		if schema, ok := m["schema"].(map[string]any); ok {
			param.Schema = schema
		}
		params = append(params, param)
	}
	return params
}

func requestBodySchema(val any) map[string]any {
	body, _ := val.(map[string]any)
	if body == nil {
		return nil
	}
	content, _ := body["content"].(map[string]any)
	if content == nil {
		return nil
	}
	jsonContent, _ := content["application/json"].(map[string]any)
	if jsonContent == nil {
		return nil
	}
	schema, _ := jsonContent["schema"].(map[string]any)
	return schema
}

// toolForOperation synthesizes the MCP tool descriptor for one operation:
// path and query parameters plus request-body properties become a flat input
// schema, the way FastMCP flattens OpenAPI operations.
func toolForOperation(op apiOperation) mcp.Tool {
	properties := make(map[string]any)
	required := make([]string, 0)

	for _, param := range op.Parameters {
		schema := copyStringAnyMap(param.Schema)
		if schema == nil {
			schema = map[string]any{"type": "string"}
		}
		if param.Description != "" {
			if _, ok := schema["description"]; !ok {
				schema["description"] = param.Description
			}
		}
		properties[param.Name] = schema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	if op.BodySchema != nil {
		if props, ok := op.BodySchema["properties"].(map[string]any); ok {
			for name, schema := range props {
				if _, exists := properties[name]; !exists {
					properties[name] = schema
				}
			}
		}
		if req, ok := op.BodySchema["required"].([]any); ok {
			for _, item := range req {
				if name, ok := item.(string); ok {
					required = append(required, name)
				}
			}
		}
	}

	description := op.Description
	if description == "" {
		description = fmt.Sprintf("%s %s", op.Method, op.Path)
	}

	return mcp.Tool{
		Name:        op.Name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
		Annotations: annotationsForMethod(op.Method),
	}
}

func copyStringAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
