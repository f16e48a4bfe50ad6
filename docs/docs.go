// Package docs registers the OpenAPI description served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {"summary": "Database health", "responses": {"200": {"description": "healthy"}, "503": {"description": "dependency unavailable"}}}
        },
        "/healthz": {
            "get": {"summary": "Liveness probe", "responses": {"200": {"description": "alive"}}}
        },
        "/documents": {
            "get": {
                "summary": "List documents",
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer", "default": 10},
                    {"name": "offset", "in": "query", "type": "integer", "default": 0}
                ],
                "responses": {"200": {"description": "page of documents"}}
            }
        },
        "/documents/ingest": {
            "post": {
                "summary": "Ingest a photo as a new or refreshed document",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "photo", "in": "formData", "type": "file", "required": true},
                    {"name": "width", "in": "formData", "type": "integer", "description": "raw RGBA frame width"},
                    {"name": "height", "in": "formData", "type": "integer", "description": "raw RGBA frame height"},
                    {"name": "background", "in": "formData", "type": "string", "description": "#RRGGBB"},
                    {"name": "link_to", "in": "formData", "type": "string"},
                    {"name": "label", "in": "formData", "type": "string"},
                    {"name": "author", "in": "formData", "type": "string"},
                    {"name": "date", "in": "formData", "type": "string"},
                    {"name": "description", "in": "formData", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "matched a known document"},
                    "201": {"description": "created a new document"},
                    "422": {"description": "no document detected"}
                }
            }
        },
        "/documents/match": {
            "post": {
                "summary": "Identify a photo without storing it",
                "consumes": ["multipart/form-data"],
                "parameters": [{"name": "photo", "in": "formData", "type": "file", "required": true}],
                "responses": {"200": {"description": "match result"}, "422": {"description": "no document detected"}}
            }
        },
        "/documents/{id}": {
            "get": {
                "summary": "Get a document",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "document"}, "404": {"description": "unknown document"}}
            },
            "patch": {
                "summary": "Update document properties",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "updated document"}, "400": {"description": "empty or invalid patch"}}
            }
        },
        "/documents/{id}/image": {
            "get": {
                "summary": "Rectified document image",
                "produces": ["image/png"],
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "PNG"}}
            }
        },
        "/documents/{id}/links": {
            "get": {
                "summary": "Linked documents",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "neighbor ids"}}
            }
        },
        "/links": {
            "post": {
                "summary": "Link two documents",
                "responses": {"200": {"description": "link already existed"}, "201": {"description": "link created"}}
            }
        },
        "/links/{source}/{target}": {
            "delete": {
                "summary": "Remove a link",
                "parameters": [
                    {"name": "source", "in": "path", "type": "string", "required": true},
                    {"name": "target", "in": "path", "type": "string", "required": true}
                ],
                "responses": {"204": {"description": "removed"}, "404": {"description": "link not found"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Holodoc API",
	Description:      "Captures photos of physical documents, recognises documents seen before and links related ones.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
