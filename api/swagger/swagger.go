package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Procurement API",
        "description": "Budget ledger and approval workflow engine",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Token issuance"},
        {"name": "Requests", "description": "Purchase request intake and decisions"},
        {"name": "Accounts", "description": "Budget account figures"},
        {"name": "Invoices", "description": "Invoice batches and external passes"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Degraded"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/requests": {
            "post": {
                "tags": ["Requests"],
                "summary": "Submit a purchase request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload"},
                    "503": {"description": "System busy"}
                }
            }
        },
        "/requests/{txnId}": {
            "get": {
                "tags": ["Requests"],
                "summary": "Fetch a purchase request",
                "parameters": [
                    {"name": "txnId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/requests/{txnId}/decision": {
            "post": {
                "tags": ["Requests"],
                "summary": "Approve or reject a pending request",
                "parameters": [
                    {"name": "txnId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not authorized"},
                    "404": {"description": "Not found"},
                    "409": {"description": "Already processed"},
                    "422": {"description": "Insufficient funds"},
                    "503": {"description": "System busy"}
                }
            }
        },
        "/accounts/{requester}": {
            "get": {
                "tags": ["Accounts"],
                "summary": "Fetch a requester's budget account",
                "parameters": [
                    {"name": "requester", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sweeps/encumbrance": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Recompute every active account's encumbrance",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/invoices/batch": {
            "post": {
                "tags": ["Invoices"],
                "summary": "Run an invoice batch for a request type",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RunBatchRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "System busy"}
                }
            }
        },
        "/invoices/external": {
            "post": {
                "tags": ["Invoices"],
                "summary": "Generate the same-day external aggregation document",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExternalPassRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Nothing documented today"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "SubmitRequest": {
            "type": "object",
            "required": ["requester", "request_type", "department", "division", "amount", "channel"],
            "properties": {
                "requester": {"type": "string"},
                "request_type": {"type": "string"},
                "department": {"type": "string"},
                "division": {"type": "string"},
                "amount": {"type": "number"},
                "description": {"type": "string"},
                "channel": {"type": "string", "enum": ["AUTOMATED", "MANUAL"]},
                "source_ref": {"type": "string"}
            }
        },
        "DecisionRequest": {
            "type": "object",
            "required": ["decision"],
            "properties": {
                "decision": {"type": "string", "enum": ["approve", "reject"]}
            }
        },
        "RunBatchRequest": {
            "type": "object",
            "required": ["request_type"],
            "properties": {
                "request_type": {"type": "string"}
            }
        },
        "ExternalPassRequest": {
            "type": "object",
            "required": ["prefix", "recipient"],
            "properties": {
                "prefix": {"type": "string"},
                "recipient": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
