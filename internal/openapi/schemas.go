package openapi

import "github.com/getkin/kin-openapi/openapi3"

func nullable(s *openapi3.Schema) *openapi3.Schema {
	s.Nullable = true
	return s
}

func errorResponseSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
}

func apiKeySchema() *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewStringSchema()).
		WithProperty("owner_id", openapi3.NewStringSchema()).
		WithProperty("name", openapi3.NewStringSchema()).
		WithProperty("description", openapi3.NewStringSchema()).
		WithProperty("scopes", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
		WithProperty("rate_limit", nullable(openapi3.NewIntegerSchema().WithMin(1))).
		WithProperty("window_seconds", nullable(openapi3.NewIntegerSchema().WithMin(1))).
		WithProperty("expires_at", nullable(openapi3.NewDateTimeSchema())).
		WithProperty("is_active", openapi3.NewBoolSchema()).
		WithProperty("created_at", openapi3.NewDateTimeSchema()).
		WithProperty("updated_at", openapi3.NewDateTimeSchema()).
		WithProperty("last_used_at", nullable(openapi3.NewDateTimeSchema()))
	s.Required = []string{"id", "owner_id", "name", "scopes", "is_active", "created_at"}
	s.Description = "An API key. The secret and its hash are never returned."
	return &openapi3.SchemaRef{Value: s}
}

func issueRequestSchema() *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema().
		WithProperty("owner_id", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("name", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("description", openapi3.NewStringSchema()).
		WithProperty("scopes", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema().WithPattern(`^\S+$`))).
		WithProperty("rate_limit", openapi3.NewIntegerSchema().WithMin(1)).
		WithProperty("window_seconds", openapi3.NewIntegerSchema().WithMin(1)).
		WithProperty("expires_in_days", openapi3.NewIntegerSchema().WithMin(1))
	s.Required = []string{"owner_id", "name"}
	return &openapi3.SchemaRef{Value: s}
}

func issuedKeySchema() *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema().
		WithPropertyRef("key", ref("APIKey"))
	s.Properties["api_key"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Description: "Plaintext credential {key_id}.{secret}. Shown once.",
	}}
	s.Required = []string{"api_key", "key"}
	return &openapi3.SchemaRef{Value: s}
}

func apiKeyUpdateSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: openapi3.NewObjectSchema().
		WithProperty("name", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("description", openapi3.NewStringSchema()).
		WithProperty("scopes", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
		WithProperty("rate_limit", openapi3.NewIntegerSchema().WithMin(1)).
		WithProperty("window_seconds", openapi3.NewIntegerSchema().WithMin(1)).
		WithProperty("is_active", openapi3.NewBoolSchema()).
		WithProperty("expires_at", openapi3.NewDateTimeSchema()).
		WithProperty("clear_rate_limit", openapi3.NewBoolSchema()).
		WithProperty("clear_window_seconds", openapi3.NewBoolSchema()).
		WithProperty("clear_expiry", openapi3.NewBoolSchema())}
}

func usageSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewUUIDSchema()).
		WithProperty("api_key_id", openapi3.NewStringSchema()).
		WithProperty("request_id", openapi3.NewStringSchema()).
		WithProperty("timestamp", openapi3.NewDateTimeSchema()).
		WithProperty("endpoint", openapi3.NewStringSchema()).
		WithProperty("method", openapi3.NewStringSchema()).
		WithProperty("status_code", openapi3.NewInt32Schema()).
		WithProperty("client_ip", openapi3.NewStringSchema()).
		WithProperty("user_agent", openapi3.NewStringSchema()).
		WithProperty("response_time_seconds", openapi3.NewFloat64Schema()).
		WithProperty("error", nullable(openapi3.NewStringSchema()))}
}

func rateLimitStatusSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: openapi3.NewObjectSchema().
		WithProperty("api_key_id", openapi3.NewStringSchema()).
		WithProperty("endpoint", openapi3.NewStringSchema()).
		WithProperty("limit", openapi3.NewInt32Schema()).
		WithProperty("remaining", openapi3.NewInt32Schema()).
		WithProperty("reset", resetSchema()).
		WithProperty("retry_after", openapi3.NewInt32Schema()).
		WithProperty("degraded", openapi3.NewBoolSchema())}
}

func metaSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"count": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int32",
						Description: "Number of records in this page.",
					},
				},
				"total": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int64",
						Description: "Total number of records matching the query.",
					},
				},
				"limit": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int32",
						Description: "Maximum records returned per page.",
					},
				},
				"offset": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int32",
						Description: "Number of records skipped.",
					},
				},
			},
		},
	}
}

func resetSchema() *openapi3.Schema {
	s := openapi3.NewInt64Schema()
	s.Description = "Window end, Unix seconds."
	return s
}
