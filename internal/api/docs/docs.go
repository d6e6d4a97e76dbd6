// Package docs holds the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "vendorcomply"
        },
        "license": {
            "name": "Apache 2.0",
            "url": "https://www.apache.org/licenses/LICENSE-2.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/alerts": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "description": "List alerts with optional vendor and resolution filters, newest first",
                "produces": ["application/json"],
                "tags": ["Alerts"],
                "summary": "List alerts",
                "parameters": [
                    {"type": "string", "description": "Filter by vendor", "name": "vendor_id", "in": "query"},
                    {"type": "boolean", "description": "Filter by resolution state", "name": "resolved", "in": "query"},
                    {"type": "integer", "default": 100, "description": "Maximum number of results", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/api.AlertResponse"}}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/compliance/check/{vendorID}": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "description": "Evaluate a vendor's documents now, record the check and reconcile alerts",
                "produces": ["application/json"],
                "tags": ["Compliance"],
                "summary": "Check vendor compliance",
                "parameters": [
                    {"type": "string", "description": "Vendor ID", "name": "vendorID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.ComplianceCheckResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Vendor not found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "429": {"description": "Plan API quota exhausted", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/compliance/summary": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "description": "Classify every vendor of the organization as of now without recording checks",
                "produces": ["application/json"],
                "tags": ["Compliance"],
                "summary": "Compliance summary",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.SummaryResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/vendors/{vendorID}/checks": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "description": "Audit history of compliance checks for a vendor, newest first",
                "produces": ["application/json"],
                "tags": ["Compliance"],
                "summary": "List vendor checks",
                "parameters": [
                    {"type": "string", "description": "Vendor ID", "name": "vendorID", "in": "path", "required": true},
                    {"type": "integer", "default": 100, "description": "Maximum number of results", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/api.CheckResponse"}}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Vendor not found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "description": "Queue a manual compliance check. A check already pending for the vendor is not duplicated.",
                "produces": ["application/json"],
                "tags": ["Compliance"],
                "summary": "Queue vendor check",
                "parameters": [
                    {"type": "string", "description": "Vendor ID", "name": "vendorID", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/api.TriggerCheckResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "403": {"description": "Read-only mode", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Vendor not found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.AlertResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "vendorId": {"type": "string"},
                "documentId": {"type": "string"},
                "documentType": {"type": "string"},
                "alertType": {"type": "string", "enum": ["expiry_warning", "expired", "missing_document", "compliance_failed"]},
                "message": {"type": "string"},
                "resolved": {"type": "boolean"},
                "resolvedAt": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "api.CheckResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "vendorId": {"type": "string"},
                "checkType": {"type": "string", "enum": ["api_check", "manual_check", "scheduled_check"]},
                "status": {"type": "string", "enum": ["passed", "failed"]},
                "apiCall": {"type": "boolean"},
                "details": {"type": "object"},
                "createdAt": {"type": "string"}
            }
        },
        "api.ComplianceCheckResponse": {
            "type": "object",
            "properties": {
                "vendorId": {"type": "string"},
                "vendorName": {"type": "string"},
                "compliant": {"type": "boolean"},
                "score": {"type": "integer"},
                "status": {"type": "string", "enum": ["compliant", "warning", "critical"]},
                "missing": {"type": "array", "items": {"type": "string"}},
                "expiring": {"type": "array", "items": {"$ref": "#/definitions/compliance.ExpiringItem"}},
                "expired": {"type": "array", "items": {"$ref": "#/definitions/compliance.ExpiredItem"}},
                "policyPassed": {"type": "boolean"},
                "lastChecked": {"type": "string"}
            }
        },
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"}
            }
        },
        "api.SummaryResponse": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "compliant": {"type": "integer"},
                "warning": {"type": "integer"},
                "critical": {"type": "integer"},
                "averageScore": {"type": "number"},
                "asOf": {"type": "string"},
                "apiCalls": {"$ref": "#/definitions/api.APIUsageResponse"}
            }
        },
        "api.APIUsageResponse": {
            "type": "object",
            "properties": {
                "plan": {"type": "string"},
                "used": {"type": "integer"},
                "limit": {"type": "integer", "x-nullable": true}
            }
        },
        "api.TriggerCheckResponse": {
            "type": "object",
            "properties": {
                "vendorId": {"type": "string"},
                "taskId": {"type": "string"},
                "queued": {"type": "boolean"},
                "message": {"type": "string"}
            }
        },
        "compliance.ExpiredItem": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "type": {"type": "string"},
                "daysOverdue": {"type": "integer"}
            }
        },
        "compliance.ExpiringItem": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "type": {"type": "string"},
                "daysUntilExpiry": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "description": "Organization API key. \"Authorization: Bearer <key>\" is accepted as well.",
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "vendorcomply API",
	Description:      "REST API for vendor document compliance checks, audit history and alerts.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
