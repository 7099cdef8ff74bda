package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures CORS.
type CORSConfig struct {
	// Origins lists allowed origins. Empty or "*" allows any origin.
	Origins []string `usage:"allowed CORS origins; empty allows any"`
	// Methods defaults to the verbs the promotion API serves.
	Methods []string `usage:"allowed CORS methods"`
	// Headers defaults to echoing Access-Control-Request-Headers.
	Headers          []string `usage:"allowed CORS request headers"`
	ExposeHeaders    []string `usage:"response headers exposed to browsers"`
	AllowCredentials bool     `usage:"allow credentialed CORS requests"`
	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header.
	MaxAge int `default:"86400" usage:"preflight cache lifetime in seconds"`
}

// CORS answers preflight requests and decorates actual requests with CORS
// headers. Origins match case-insensitively and are echoed as configured.
// With credentials enabled a wildcard is never sent; the matched origin is
// echoed instead.
func CORS(cfg CORSConfig) Middleware {
	anyOrigin := len(cfg.Origins) == 0
	origins := make(map[string]string, len(cfg.Origins))
	for _, o := range cfg.Origins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		origins[strings.ToLower(o)] = o
	}

	methods := "GET, POST, PATCH, DELETE, OPTIONS"
	if len(cfg.Methods) > 0 {
		methods = strings.Join(cfg.Methods, ", ")
	}
	headers := strings.Join(cfg.Headers, ", ")
	expose := strings.Join(cfg.ExposeHeaders, ", ")
	var maxAge string
	if cfg.MaxAge != 0 {
		maxAge = strconv.Itoa(max(cfg.MaxAge, 0))
	}

	allowOrigin := func(origin string) string {
		if anyOrigin && !cfg.AllowCredentials {
			return "*"
		}
		if o, ok := origins[strings.ToLower(origin)]; ok {
			return o
		}
		if anyOrigin {
			return origin
		}
		return ""
	}
	varies := !anyOrigin || cfg.AllowCredentials

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			if origin == "" {
				if varies {
					h.Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}
			allowed := allowOrigin(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Origin")
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if allowed != "" {
					h.Set("Access-Control-Allow-Origin", allowed)
					h.Set("Access-Control-Allow-Methods", methods)
					switch {
					case headers != "":
						h.Set("Access-Control-Allow-Headers", headers)
					case r.Header.Get("Access-Control-Request-Headers") != "":
						h.Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
					}
					if cfg.AllowCredentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					if maxAge != "" {
						h.Set("Access-Control-Max-Age", maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if varies {
				h.Add("Vary", "Origin")
			}
			if allowed != "" {
				h.Set("Access-Control-Allow-Origin", allowed)
				if cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if expose != "" {
					h.Set("Access-Control-Expose-Headers", expose)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
