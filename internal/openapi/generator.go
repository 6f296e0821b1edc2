package openapi

import (
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

// Route describes one gated upstream route for the document.
type Route struct {
	Prefix        string
	RequiredScope string
	Upstream      string
}

// Options controls document generation.
type Options struct {
	BaseURL string
	Version string
	// CredentialHeader is the header carrying API keys; X-API-Key is always
	// documented as an alternative.
	CredentialHeader string
	Routes           []Route
}

const (
	adminPrefix = "/api/v1/system"
	tagKeys     = "api-keys"
	tagCaller   = "caller"
	tagGateway  = "gateway"
	tagHealth   = "health"
)

// Generate builds the OpenAPI 3.1 document for the admin API, the built-in
// gated endpoints and the configured upstream routes.
func Generate(opts Options) *openapi3.T {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.CredentialHeader == "" {
		opts.CredentialHeader = "Authorization"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "keygate API",
			Description: "API key issuance, verification and rate limiting gateway.",
			Version:     opts.Version,
		},
		Paths: openapi3.NewPaths(),
		Tags: openapi3.Tags{
			{Name: tagKeys, Description: "API key administration (admin JWT)."},
			{Name: tagCaller, Description: "Endpoints describing the calling API key."},
			{Name: tagGateway, Description: "Upstream routes behind the request gate."},
			{Name: tagHealth, Description: "Liveness and readiness probes."},
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{
		"ErrorResponse":   errorResponseSchema(),
		"APIKey":          apiKeySchema(),
		"IssueRequest":    issueRequestSchema(),
		"IssuedKey":       issuedKeySchema(),
		"APIKeyUpdate":    apiKeyUpdateSchema(),
		"APIKeyUsage":     usageSchema(),
		"RateLimitStatus": rateLimitStatusSchema(),
		"ResponseMeta":    metaSchema(),
	}
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"adminBearer": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "Admin token minted with `keygate admin token`.",
			},
		},
		"apiKey": &openapi3.SecuritySchemeRef{
			Value: apiKeyScheme(opts.CredentialHeader),
		},
		"apiKeyHeader": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "apiKey", In: "header", Name: "X-API-Key"},
		},
	}
	doc.Components = &components

	addAdminPaths(doc)
	addCallerPaths(doc)
	addRoutePaths(doc, opts.Routes)
	addHealthPaths(doc)

	return doc
}

// apiKeyScheme documents the primary credential header. The Authorization
// header uses the Bearer scheme carrying "{id}.{secret}".
func apiKeyScheme(header string) *openapi3.SecurityScheme {
	if header == "Authorization" {
		return &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "{key_id}.{secret}",
		}
	}
	return &openapi3.SecurityScheme{Type: "apiKey", In: "header", Name: header}
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addAdminPaths(doc *openapi3.T) {
	adminSecurity := &openapi3.SecurityRequirements{{"adminBearer": {}}}
	keyRef := ref("APIKey")

	doc.Paths.Set(adminPrefix+"/api-key", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tagKeys},
			Summary:     "List API keys",
			OperationID: "listAPIKeys",
			Security:    adminSecurity,
			Parameters: openapi3.Parameters{
				queryParam("owner_id", openapi3.NewStringSchema(), "Only keys of this owner."),
			},
			Responses: newResponses("200", "API keys (secrets are never returned)", listSchema(keyRef)),
		},
		Post: &openapi3.Operation{
			Tags:        []string{tagKeys},
			Summary:     "Issue an API key",
			Description: "The plaintext credential is returned in this response only.",
			OperationID: "createAPIKey",
			Security:    adminSecurity,
			RequestBody: jsonBody("Key to issue", ref("IssueRequest")),
			Responses:   newResponses("201", "Issued key", ref("IssuedKey")),
		},
	})

	doc.Paths.Set(adminPrefix+"/api-key/{keyId}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam()},
		Get: &openapi3.Operation{
			Tags:        []string{tagKeys},
			Summary:     "Get an API key",
			OperationID: "getAPIKey",
			Security:    adminSecurity,
			Responses:   newResponses("200", "API key", keyRef),
		},
		Patch: &openapi3.Operation{
			Tags:        []string{tagKeys},
			Summary:     "Update an API key",
			OperationID: "updateAPIKey",
			Security:    adminSecurity,
			RequestBody: jsonBody("Fields to change", ref("APIKeyUpdate")),
			Responses:   newResponses("200", "Updated key", keyRef),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{tagKeys},
			Summary:     "Delete an API key",
			Description: "Usage history is retained.",
			OperationID: "deleteAPIKey",
			Security:    adminSecurity,
			Responses: newResponses("200", "Deleted", &openapi3.SchemaRef{Value: openapi3.NewObjectSchema().
				WithProperty("success", openapi3.NewBoolSchema()).
				WithProperty("message", openapi3.NewStringSchema())}),
		},
	})

	doc.Paths.Set(adminPrefix+"/api-key/{keyId}/revoke", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam()},
		Post: &openapi3.Operation{
			Tags:        []string{tagKeys},
			Summary:     "Deactivate an API key",
			OperationID: "revokeAPIKey",
			Security:    adminSecurity,
			Responses:   newResponses("200", "Revoked key", keyRef),
		},
	})

	doc.Paths.Set(adminPrefix+"/api-key/{keyId}/usage", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam()},
		Get: &openapi3.Operation{
			Tags:        []string{tagKeys},
			Summary:     "List usage history, newest first",
			OperationID: "listAPIKeyUsage",
			Security:    adminSecurity,
			Parameters: openapi3.Parameters{
				queryParam("from", openapi3.NewDateTimeSchema(), "Inclusive lower bound (RFC 3339)."),
				queryParam("to", openapi3.NewDateTimeSchema(), "Exclusive upper bound (RFC 3339)."),
				queryParam("limit", openapi3.NewIntegerSchema().WithMin(1).WithMax(500), "Page size, default 50."),
				queryParam("offset", openapi3.NewIntegerSchema().WithMin(0), "Rows to skip."),
			},
			Responses: newResponses("200", "Usage page", listSchema(ref("APIKeyUsage"))),
		},
	})

	doc.Paths.Set(adminPrefix+"/api-key/{keyId}/rate-limit", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam()},
		Get: &openapi3.Operation{
			Tags:        []string{tagKeys},
			Summary:     "Current rate limit window",
			Description: "Reads the window without counting a request.",
			OperationID: "getAPIKeyRateLimit",
			Security:    adminSecurity,
			Parameters: openapi3.Parameters{
				queryParam("endpoint", openapi3.NewStringSchema(), "Rate limit bucket, default /."),
			},
			Responses: newResponses("200", "Rate limit status", ref("RateLimitStatus")),
		},
	})
}

func addCallerPaths(doc *openapi3.T) {
	security := gatedSecurity()

	doc.Paths.Set("/v1/whoami", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tagCaller},
			Summary:     "Describe the calling API key",
			OperationID: "whoAmI",
			Security:    security,
			Responses:   gatedResponses("200", "Calling key", ref("APIKey")),
		},
	})
	doc.Paths.Set("/v1/rate-limit", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tagCaller},
			Summary:     "Caller's current rate limit window",
			OperationID: "callerRateLimit",
			Security:    security,
			Parameters: openapi3.Parameters{
				queryParam("endpoint", openapi3.NewStringSchema(), "Rate limit bucket, default /."),
			},
			Responses: gatedResponses("200", "Rate limit status", ref("RateLimitStatus")),
		},
	})
}

func addRoutePaths(doc *openapi3.T, routes []Route) {
	sorted := append([]Route(nil), routes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Prefix < sorted[j].Prefix })

	for i, rt := range sorted {
		desc := fmt.Sprintf("Proxied to %s.", rt.Upstream)
		if rt.RequiredScope != "" {
			desc += fmt.Sprintf(" Requires scope `%s`.", rt.RequiredScope)
		}
		op := &openapi3.Operation{
			Tags:        []string{tagGateway},
			Summary:     "Gated upstream route " + rt.Prefix,
			Description: desc,
			OperationID: fmt.Sprintf("route%d", i),
			Security:    gatedSecurity(),
			Responses: gatedResponses("200", "Upstream response", &openapi3.SchemaRef{
				Value: openapi3.NewSchema(),
			}),
		}
		if rt.RequiredScope != "" {
			op.Extensions = map[string]any{"x-required-scope": rt.RequiredScope}
		}
		doc.Paths.Set(rt.Prefix, &openapi3.PathItem{
			Description: desc,
			Get:         op,
		})
	}
}

func addHealthPaths(doc *openapi3.T) {
	status := &openapi3.SchemaRef{Value: openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewStringSchema())}

	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tagHealth},
			Summary:     "Liveness probe",
			OperationID: "healthz",
			Security:    &openapi3.SecurityRequirements{},
			Responses:   plainResponses("200", "Serving", status),
		},
	})
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tagHealth},
			Summary:     "Readiness probe covering the credential and counter stores",
			OperationID: "readyz",
			Security:    &openapi3.SecurityRequirements{},
			Responses:   plainResponses("200", "Ready", status),
		},
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func gatedSecurity() *openapi3.SecurityRequirements {
	return &openapi3.SecurityRequirements{{"apiKey": {}}, {"apiKeyHeader": {}}}
}

func keyIDParam() *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter("keyId").
			WithDescription("Public key id (key_ followed by 32 hex characters).").
			WithSchema(openapi3.NewStringSchema().WithPattern(`^key_[0-9a-f]{32}$`)),
	}
}

func queryParam(name string, schema *openapi3.Schema, description string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter(name).WithDescription(description).WithSchema(schema),
	}
}

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func listSchema(item *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"resource": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: item,
					},
				},
				"meta": ref("ResponseMeta"),
			},
		},
	}
}

func setResponse(responses *openapi3.Responses, code, description string, schema *openapi3.SchemaRef) {
	desc := description
	responses.Set(code, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})
}

func plainResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()
	setResponse(responses, statusCode, description, schema)
	return responses
}

// newResponses builds the responses of an admin operation.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := plainResponses(statusCode, description, schema)
	errorRef := ref("ErrorResponse")
	setResponse(responses, "400", "Bad request", errorRef)
	setResponse(responses, "401", "Missing or invalid admin token", errorRef)
	setResponse(responses, "404", "API key not found", errorRef)
	setResponse(responses, "429", "Too many admin requests from this address", errorRef)
	setResponse(responses, "500", "Internal server error", errorRef)
	return responses
}

// gatedResponses builds the responses of an operation behind the request gate.
func gatedResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := plainResponses(statusCode, description, schema)
	errorRef := ref("ErrorResponse")
	setResponse(responses, "401", "Invalid API key", errorRef)
	setResponse(responses, "403", "Insufficient scope", errorRef)
	setResponse(responses, "429", "Rate limit exceeded; see Retry-After", errorRef)
	setResponse(responses, "503", "Authentication temporarily unavailable", errorRef)
	return responses
}
