// Package docs registers the hand-authored Swagger 2.0 spec served at
// /docs/*any, covering every endpoint in the request surface.
package docs

import (
	"github.com/swaggo/swag"
)

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/orders": {
            "post": {
                "tags": ["orders"],
                "summary": "Admit a limit or market order",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/OrderRequest"}}],
                "responses": {"201": {"description": "created"}}
            },
            "get": {
                "tags": ["orders"],
                "summary": "List orders",
                "parameters": [
                    {"in": "query", "name": "address", "type": "string"},
                    {"in": "query", "name": "status", "type": "string"}
                ],
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/orders/{id}": {
            "get": {
                "tags": ["orders"],
                "summary": "Get order by id",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {"200": {"description": "ok"}, "404": {"description": "not found"}}
            }
        },
        "/orders/{id}/cancel": {
            "post": {
                "tags": ["orders"],
                "summary": "Cancel an order",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {"200": {"description": "ok"}, "400": {"description": "cannot cancel"}, "404": {"description": "not found"}}
            }
        },
        "/orders/book/{asset}": {
            "get": {
                "tags": ["orders"],
                "summary": "Aggregated order book for asset",
                "parameters": [{"in": "path", "name": "asset", "required": true, "type": "string"}],
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/trades": {
            "get": {
                "tags": ["trades"],
                "summary": "Trade history",
                "parameters": [
                    {"in": "query", "name": "asset", "type": "string"},
                    {"in": "query", "name": "address", "type": "string"}
                ],
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/settle": {
            "post": {
                "tags": ["settlements"],
                "summary": "Request an asynchronous out-of-book transfer",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/SettleRequest"}}],
                "responses": {"202": {"description": "accepted"}}
            }
        },
        "/settlements": {
            "get": {
                "tags": ["settlements"],
                "summary": "List all settlements",
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/settlements/{id}": {
            "get": {
                "tags": ["settlements"],
                "summary": "Get settlement by id",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {"200": {"description": "ok"}, "404": {"description": "not found"}}
            }
        },
        "/settlements/address/{address}": {
            "get": {
                "tags": ["settlements"],
                "summary": "List settlements involving address",
                "parameters": [{"in": "path", "name": "address", "required": true, "type": "string"}],
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/balance/{address}": {
            "get": {
                "tags": ["balances"],
                "summary": "Single-asset balance lookup",
                "parameters": [
                    {"in": "path", "name": "address", "required": true, "type": "string"},
                    {"in": "query", "name": "asset", "required": true, "type": "string"}
                ],
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/balance/{address}/all": {
            "get": {
                "tags": ["balances"],
                "summary": "All asset balances for address",
                "parameters": [{"in": "path", "name": "address", "required": true, "type": "string"}],
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/assets": {
            "get": {
                "tags": ["assets"],
                "summary": "Fixed asset catalogue",
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/health": {
            "get": {
                "tags": ["system"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "ok"}}
            }
        }
    },
    "definitions": {
        "OrderRequest": {
            "type": "object",
            "properties": {
                "address": {"type": "string"},
                "asset": {"type": "string"},
                "side": {"type": "string", "enum": ["buy", "sell"]},
                "type": {"type": "string", "enum": ["limit", "market"]},
                "amount": {"type": "string"},
                "price": {"type": "string"}
            }
        },
        "SettleRequest": {
            "type": "object",
            "properties": {
                "from": {"type": "string"},
                "to": {"type": "string"},
                "amount": {"type": "string"},
                "asset": {"type": "string"}
            }
        }
    }
}`

func init() {
	swag.Register("swagger", &swag.Spec{
		Version:          "1.0.0",
		Host:             "localhost:8080",
		BasePath:         "/api",
		Schemes:          []string{"http", "https"},
		Title:            "Exchange Matching Engine API",
		Description:      "Order admission, matching, settlement, and read-only query endpoints for the exchange backend",
		InfoInstanceName: "swagger",
		SwaggerTemplate:  docTemplate,
	})
}
