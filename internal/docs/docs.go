// Package docs registers the OpenAPI document served under /swagger.
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
    "consumes": ["application/json"],
    "produces": ["application/json"],
    "paths": {
        "/drafts": {
            "post": {
                "summary": "Create a draft from company, position and job description",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/CreateDraftRequest"}}],
                "responses": {"201": {"description": "created"}, "400": {"description": "missing fields"}}
            }
        },
        "/drafts/{id}": {
            "get": {
                "summary": "Read a draft",
                "parameters": [{"$ref": "#/parameters/draftId"}],
                "responses": {"200": {"description": "draft"}, "404": {"description": "unknown draft"}}
            }
        },
        "/drafts/{id}/attribution": {
            "post": {
                "summary": "Recompute contributor attribution and preview rewards",
                "parameters": [
                    {"$ref": "#/parameters/draftId"},
                    {"in": "body", "name": "body", "schema": {"$ref": "#/definitions/ComputeAttributionRequest"}}
                ],
                "responses": {"200": {"description": "attribution report"}, "404": {"description": "unknown draft"}, "409": {"description": "draft has no text"}}
            },
            "get": {
                "summary": "Stored attribution rows",
                "parameters": [{"$ref": "#/parameters/draftId"}],
                "responses": {"200": {"description": "rows"}, "404": {"description": "unknown draft"}}
            }
        },
        "/drafts/{id}/finalize": {
            "post": {
                "summary": "Finalize the draft and write preview ledger rows",
                "parameters": [{"$ref": "#/parameters/draftId"}],
                "responses": {"200": {"description": "finalize report"}, "404": {"description": "unknown draft"}}
            }
        },
        "/drafts/{id}/settle": {
            "post": {
                "summary": "Settle every preview ledger row of the draft",
                "parameters": [{"$ref": "#/parameters/draftId"}],
                "responses": {"200": {"description": "settled count"}, "404": {"description": "unknown draft"}}
            }
        },
        "/drafts/{id}/ledger": {
            "get": {
                "summary": "Ledger rows of a draft",
                "parameters": [{"$ref": "#/parameters/draftId"}],
                "responses": {"200": {"description": "rows"}, "404": {"description": "unknown draft"}}
            }
        },
        "/drafts/rewards/me": {
            "get": {
                "summary": "Ledger rows and totals of one contributor",
                "parameters": [{"in": "query", "name": "userId", "type": "string", "required": true}],
                "responses": {"200": {"description": "rewards"}, "400": {"description": "userId missing"}}
            }
        },
        "/fragments": {
            "post": {
                "summary": "Ingest corpus fragments",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"type": "array", "items": {"$ref": "#/definitions/FragmentInput"}}}],
                "responses": {"201": {"description": "ingested count"}, "400": {"description": "invalid fragment"}}
            }
        },
        "/fragments/{id}/eligibility": {
            "put": {
                "summary": "Set the eligibility verdict of a fragment",
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"type": "object", "properties": {"isEligible": {"type": "boolean"}}}}
                ],
                "responses": {"204": {"description": "updated"}, "404": {"description": "unknown fragment"}}
            }
        },
        "/fragments/stats": {
            "get": {
                "summary": "Corpus counts by eligibility",
                "responses": {"200": {"description": "stats"}}
            }
        },
        "/health": {
            "get": {"summary": "Liveness and dependency checks", "responses": {"200": {"description": "ok"}, "503": {"description": "degraded"}}}
        },
        "/metrics": {
            "get": {"summary": "In-process counters", "responses": {"200": {"description": "metrics"}}}
        }
    },
    "parameters": {
        "draftId": {"in": "path", "name": "id", "type": "string", "required": true}
    },
    "definitions": {
        "CreateDraftRequest": {
            "type": "object",
            "required": ["company", "position", "jd"],
            "properties": {
                "company": {"type": "string"},
                "position": {"type": "string"},
                "jd": {"type": "string"},
                "tone": {"type": "string", "enum": ["neutral", "formal", "friendly"]},
                "authorId": {"type": "string"}
            }
        },
        "ComputeAttributionRequest": {
            "type": "object",
            "properties": {
                "topK": {"type": "integer", "default": 50},
                "threshold": {"type": "number", "default": 0},
                "n": {"type": "integer", "enum": [2, 3], "default": 3},
                "fallbackTo2": {"type": "boolean", "default": true}
            }
        },
        "FragmentInput": {
            "type": "object",
            "required": ["ownerId", "text"],
            "properties": {
                "id": {"type": "string"},
                "ownerId": {"type": "string"},
                "text": {"type": "string"},
                "isEligible": {"type": "boolean"}
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
	Title:            "Draft Attribution API",
	Description:      "Attributes cover-letter drafts to corpus contributors and tracks their rewards.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
