// Package swagger registers the scoreshelf OpenAPI document with swag.
// Running go generate in docs replaces it with the full annotated spec.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "schemes": {{ marshal .Schemes }},
    "securityDefinitions": {
        "UserID": {"type": "apiKey", "in": "header", "name": "X-User-ID"},
        "ServiceToken": {"type": "apiKey", "in": "header", "name": "X-Internal-Service-Token"}
    },
    "paths": {
        "/health": {"get": {"tags": ["health"], "summary": "Liveness check", "responses": {"200": {"description": "OK"}}}},
        "/ready": {"get": {"tags": ["health"], "summary": "Readiness check including the database", "responses": {"200": {"description": "OK"}, "503": {"description": "Degraded"}}}},
        "/status": {"get": {"tags": ["health"], "summary": "Server status with providers and queue depth", "responses": {"200": {"description": "OK"}}}},
        "/api/smart-upload/uploads": {"post": {"tags": ["smart-upload"], "summary": "Upload a PDF", "consumes": ["multipart/form-data"],
            "parameters": [{"name": "file", "in": "formData", "type": "file", "required": true}],
            "responses": {"202": {"description": "Accepted"}, "400": {"description": "Invalid upload"}, "401": {"description": "Unauthenticated"}, "403": {"description": "Forbidden"}}}},
        "/api/smart-upload/second-pass": {"post": {"tags": ["smart-upload"], "summary": "Queue a second pass",
            "responses": {"202": {"description": "Accepted"}, "400": {"description": "Not eligible"}, "404": {"description": "Unknown session"}}}},
        "/api/smart-upload/sessions": {"get": {"tags": ["smart-upload"], "summary": "List sessions",
            "parameters": [{"name": "status", "in": "query", "type": "string"}, {"name": "page", "in": "query", "type": "integer"}, {"name": "limit", "in": "query", "type": "integer"}],
            "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid filter"}}}},
        "/api/smart-upload/sessions/{id}": {"get": {"tags": ["smart-upload"], "summary": "Get a session",
            "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
            "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}},
        "/api/smart-upload/sessions/{id}/approve": {"post": {"tags": ["smart-upload"], "summary": "Approve a session",
            "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
            "responses": {"200": {"description": "Committed"}, "400": {"description": "Not committable"}, "404": {"description": "Not found"}}}},
        "/api/smart-upload/sessions/{id}/reject": {"post": {"tags": ["smart-upload"], "summary": "Reject a session",
            "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
            "responses": {"200": {"description": "Rejected"}, "400": {"description": "Not pending"}, "404": {"description": "Not found"}}}},
        "/api/smart-upload/sessions/{id}/reopen": {"post": {"tags": ["smart-upload"], "summary": "Return a rejected session to review",
            "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
            "responses": {"200": {"description": "Reopened"}, "400": {"description": "Not rejected"}, "404": {"description": "Not found"}}}},
        "/api/smart-upload/sessions/{id}/preview": {"get": {"tags": ["smart-upload"], "summary": "Render a page preview",
            "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}, {"name": "storageKey", "in": "query", "type": "string", "required": true}, {"name": "page", "in": "query", "type": "integer"}],
            "responses": {"200": {"description": "Base64 PNG"}, "400": {"description": "Page out of range"}, "404": {"description": "Unknown session or key"}}}},
        "/api/smart-upload/sessions/{id}/calls": {"get": {"tags": ["smart-upload"], "summary": "List a session's AI calls",
            "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
            "responses": {"200": {"description": "Calls oldest first"}, "404": {"description": "Unknown session"}}}},
        "/api/smart-upload/calls/summary": {"get": {"tags": ["smart-upload"], "summary": "Summarize AI usage",
            "parameters": [{"name": "window", "in": "query", "type": "string"}],
            "responses": {"200": {"description": "Per provider and model"}, "400": {"description": "Invalid window"}}}},
        "/api/smart-upload/bulk-approve": {"post": {"tags": ["smart-upload"], "summary": "Approve many sessions",
            "responses": {"200": {"description": "Approved and skipped ids"}, "400": {"description": "Validation failed"}}}},
        "/api/smart-upload/export.xlsx": {"get": {"tags": ["smart-upload"], "summary": "Export sessions as a workbook", "produces": ["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
            "responses": {"200": {"description": "Workbook"}}}},
        "/api/smart-upload/queues": {"get": {"tags": ["queues"], "summary": "Queue statistics", "responses": {"200": {"description": "OK"}}}},
        "/api/smart-upload/queues/{name}/clear": {"post": {"tags": ["queues"], "summary": "Clear a queue",
            "parameters": [{"name": "name", "in": "path", "type": "string", "required": true}, {"name": "status", "in": "query", "type": "string"}],
            "responses": {"200": {"description": "Deleted count"}, "403": {"description": "Dead-letter queue is protected"}}}},
        "/api/smart-upload/jobs/{id}": {"get": {"tags": ["queues"], "summary": "Get a job",
            "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
            "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}},
        "/api/smart-upload/dead-letters": {"get": {"tags": ["queues"], "summary": "List dead letters", "responses": {"200": {"description": "OK"}}}},
        "/api/smart-upload/dead-letters/{id}/retry": {"post": {"tags": ["queues"], "summary": "Retry a dead letter",
            "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
            "responses": {"200": {"description": "Re-queued job"}, "400": {"description": "Not a dead letter"}, "404": {"description": "Not found"}}}},
        "/api/settings": {"get": {"tags": ["settings"], "summary": "List all settings", "responses": {"200": {"description": "OK"}}}},
        "/api/settings/{key}": {
            "get": {"tags": ["settings"], "summary": "Get a setting", "parameters": [{"name": "key", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}},
            "put": {"tags": ["settings"], "summary": "Update a setting", "parameters": [{"name": "key", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid value"}}}},
        "/api/settings/reset/{key}": {"post": {"tags": ["settings"], "summary": "Reset a setting to default",
            "parameters": [{"name": "key", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "No default"}}}},
        "/api/prompts": {"get": {"tags": ["prompts"], "summary": "List all prompts", "responses": {"200": {"description": "OK"}}}},
        "/api/prompts/{key}": {
            "get": {"tags": ["prompts"], "summary": "Get a prompt", "parameters": [{"name": "key", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}},
            "put": {"tags": ["prompts"], "summary": "Override a prompt", "parameters": [{"name": "key", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Template does not parse"}}},
            "delete": {"tags": ["prompts"], "summary": "Remove a prompt override", "parameters": [{"name": "key", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "scoreshelf API",
	Description:      "Smart Upload ingestion for sheet music: upload, AI split, review and commit into the library.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
