package openapi

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGenerateAdminPaths(t *testing.T) {
	doc := Generate(Options{BaseURL: "http://localhost:8080", Version: "1.2.3"})

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q, want 3.1.0", doc.OpenAPI)
	}
	if doc.Info.Version != "1.2.3" {
		t.Errorf("version = %q", doc.Info.Version)
	}

	for _, path := range []string{
		"/api/v1/system/api-key",
		"/api/v1/system/api-key/{keyId}",
		"/api/v1/system/api-key/{keyId}/revoke",
		"/api/v1/system/api-key/{keyId}/usage",
		"/api/v1/system/api-key/{keyId}/rate-limit",
		"/v1/whoami",
		"/v1/rate-limit",
		"/healthz",
		"/readyz",
	} {
		if doc.Paths.Value(path) == nil {
			t.Errorf("missing path %s", path)
		}
	}

	item := doc.Paths.Value("/api/v1/system/api-key/{keyId}")
	if item.Get == nil || item.Patch == nil || item.Delete == nil {
		t.Error("key path should support GET, PATCH and DELETE")
	}
	if item.Get.Responses.Value("404") == nil {
		t.Error("GET key should document 404")
	}
}

func TestGenerateGatedResponses(t *testing.T) {
	doc := Generate(Options{})
	op := doc.Paths.Value("/v1/whoami").Get
	for _, code := range []string{"200", "401", "403", "429", "503"} {
		if op.Responses.Value(code) == nil {
			t.Errorf("whoami missing %s response", code)
		}
	}
}

func TestGenerateRoutes(t *testing.T) {
	doc := Generate(Options{Routes: []Route{
		{Prefix: "/v1/tasks", Upstream: "http://tasks:9000"},
		{Prefix: "/v1/notes", Upstream: "http://notes:9000", RequiredScope: "notes:read"},
	}})

	notes := doc.Paths.Value("/v1/notes")
	if notes == nil || notes.Get == nil {
		t.Fatal("missing /v1/notes route")
	}
	if notes.Get.Extensions["x-required-scope"] != "notes:read" {
		t.Errorf("x-required-scope = %v", notes.Get.Extensions["x-required-scope"])
	}
	if !strings.Contains(notes.Description, "http://notes:9000") {
		t.Errorf("description = %q", notes.Description)
	}
	if tasks := doc.Paths.Value("/v1/tasks"); tasks == nil || tasks.Get.Extensions != nil {
		t.Error("route without scope should have no x-required-scope")
	}
}

func TestGenerateCredentialHeader(t *testing.T) {
	doc := Generate(Options{})
	if s := doc.Components.SecuritySchemes["apiKey"].Value; s.Type != "http" || s.Scheme != "bearer" {
		t.Errorf("default scheme = %+v, want bearer", s)
	}

	doc = Generate(Options{CredentialHeader: "X-Gateway-Key"})
	if s := doc.Components.SecuritySchemes["apiKey"].Value; s.Type != "apiKey" || s.Name != "X-Gateway-Key" {
		t.Errorf("custom scheme = %+v", s)
	}
}

func TestGenerateMarshalsWithoutSecrets(t *testing.T) {
	data, err := json.Marshal(Generate(Options{}))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if strings.Contains(string(data), "secret_hash") {
		t.Error("document exposes secret_hash")
	}
	if !strings.Contains(string(data), `"#/components/schemas/APIKey"`) {
		t.Error("expected APIKey schema references")
	}
}
