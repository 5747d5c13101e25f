// Package swagger registers the dm-api OpenAPI document with swag.
package swagger

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
        "/conversations": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "List conversations",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.ListConversationsResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "Start a conversation",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/requests.CreateConversationRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.ConversationResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}
                }
            }
        },
        "/conversations/{conversation_id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "Get a conversation",
                "parameters": [{"type": "string", "in": "path", "name": "conversation_id", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.ConversationResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}
                }
            }
        },
        "/conversations/{conversation_id}/messages": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "List messages",
                "parameters": [{"type": "string", "in": "path", "name": "conversation_id", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.ListMessagesResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Send a message",
                "parameters": [
                    {"type": "string", "in": "path", "name": "conversation_id", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/requests.SendMessageRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/responses.MessageResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}
                }
            }
        },
        "/conversations/{conversation_id}/stream": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["text/event-stream"],
                "tags": ["Messages"],
                "summary": "Stream a conversation",
                "parameters": [{"type": "string", "in": "path", "name": "conversation_id", "required": true}],
                "responses": {
                    "200": {"description": "event stream", "schema": {"type": "string"}}
                }
            }
        }
    },
    "definitions": {
        "requests.CreateConversationRequest": {
            "type": "object",
            "required": ["participant_id"],
            "properties": {"participant_id": {"type": "string"}}
        },
        "requests.SendMessageRequest": {
            "type": "object",
            "required": ["text"],
            "properties": {"text": {"type": "string"}, "attachment_ref": {"type": "string"}}
        },
        "responses.ConversationResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "object": {"type": "string"},
                "participants": {"type": "array", "items": {"type": "string"}},
                "counterpart_id": {"type": "string"},
                "created_at": {"type": "string"},
                "last_message_at": {"type": "string"}
            }
        },
        "responses.ConversationSummaryResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "counterpart_id": {"type": "string"},
                "last_message": {"$ref": "#/definitions/responses.MessageResponse"}
            }
        },
        "responses.ListConversationsResponse": {
            "type": "object",
            "properties": {
                "object": {"type": "string"},
                "data": {"type": "array", "items": {"$ref": "#/definitions/responses.ConversationSummaryResponse"}}
            }
        },
        "responses.MessageResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "object": {"type": "string"},
                "conversation_id": {"type": "string"},
                "sender_id": {"type": "string"},
                "text": {"type": "string"},
                "attachment_ref": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "edited": {"type": "boolean"}
            }
        },
        "responses.ListMessagesResponse": {
            "type": "object",
            "properties": {
                "object": {"type": "string"},
                "data": {"type": "array", "items": {"$ref": "#/definitions/responses.MessageResponse"}}
            }
        },
        "responses.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"$ref": "#/definitions/responses.ErrorDetail"}}
        },
        "responses.ErrorDetail": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "type": {"type": "string"},
                "code": {"type": "string"},
                "request_id": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8190",
	BasePath:         "/v1",
	Schemes:          []string{},
	Title:            "DM API",
	Description:      "Direct messaging between two users with a live change feed.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
