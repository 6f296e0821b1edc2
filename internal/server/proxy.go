package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
)

// Headers set on proxied requests so upstreams know who is calling without
// ever seeing the credential.
const (
	HeaderKeyID   = "X-Keygate-Key-Id"
	HeaderOwnerID = "X-Keygate-Owner-Id"
	HeaderScopes  = "X-Keygate-Scopes"
)

// Route is a gated upstream route: requests under Prefix are verified, scope
// checked and rate limited, then proxied to Upstream.
type Route struct {
	Prefix        string
	Upstream      string
	RequiredScope string
	// StripPrefix removes Prefix from the path before proxying.
	StripPrefix bool
}

func newProxy(rt Route, credentialHeader string, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(rt.Upstream)
	if err != nil {
		return nil, fmt.Errorf("route %q: parse upstream: %w", rt.Prefix, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("route %q: upstream must be an http or https URL", rt.Prefix)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if rt.StripPrefix {
				path := strings.TrimPrefix(pr.In.URL.Path, rt.Prefix)
				if path == "" {
					path = "/"
				}
				pr.Out.URL.Path = path
				pr.Out.URL.RawPath = ""
			}
			pr.SetURL(target)
			pr.SetXForwarded()
			setCallerHeaders(pr.Out.Header, middleware.GetAPIKey(pr.In.Context()), credentialHeader)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("upstream request failed", "route", rt.Prefix, "upstream", rt.Upstream, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":{"code":502,"message":"Upstream unavailable"}}`))
		},
	}, nil
}

// setCallerHeaders strips credentials and identifies the verified key.
func setCallerHeaders(h http.Header, key *model.APIKey, credentialHeader string) {
	h.Del("Authorization")
	if credentialHeader != "" {
		h.Del(credentialHeader)
	}
	h.Del(middleware.APIKeyHeader)
	h.Del(HeaderKeyID)
	h.Del(HeaderOwnerID)
	h.Del(HeaderScopes)
	if key == nil {
		return
	}
	h.Set(HeaderKeyID, key.ID)
	h.Set(HeaderOwnerID, key.OwnerID)
	if len(key.Scopes) > 0 {
		h.Set(HeaderScopes, strings.Join(key.Scopes, " "))
	}
}
