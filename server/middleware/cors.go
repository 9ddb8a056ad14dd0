package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds CORS settings for the admin API. An origin entry may be
// "*", an exact origin, or a subdomain pattern such as
// "https://*.example.com".
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials" mapstructure:"allow_credentials"`
	// MaxAge is how long, in seconds, browsers may cache a preflight answer.
	MaxAge int `yaml:"max_age" mapstructure:"max_age"`
}

type corsPolicy struct {
	any      bool
	exact    map[string]bool
	suffixes [][2]string // scheme://, .domain

	headers map[string]string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{exact: make(map[string]bool), headers: make(map[string]string)}
	for _, o := range cfg.AllowedOrigins {
		switch scheme, host, ok := strings.Cut(o, "://*."); {
		case o == "*":
			p.any = true
		case ok:
			p.suffixes = append(p.suffixes, [2]string{scheme + "://", "." + host})
		default:
			p.exact[strings.ToLower(o)] = true
		}
	}

	p.headers["Access-Control-Expose-Headers"] = HeaderRequestID
	if len(cfg.AllowedMethods) > 0 {
		p.headers["Access-Control-Allow-Methods"] = strings.Join(cfg.AllowedMethods, ", ")
	}
	if len(cfg.AllowedHeaders) > 0 {
		p.headers["Access-Control-Allow-Headers"] = strings.Join(cfg.AllowedHeaders, ", ")
	}
	if cfg.AllowCredentials {
		p.headers["Access-Control-Allow-Credentials"] = "true"
	}
	if cfg.MaxAge > 0 {
		p.headers["Access-Control-Max-Age"] = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

func (p *corsPolicy) allows(origin string) bool {
	if p.any {
		return true
	}
	origin = strings.ToLower(origin)
	if p.exact[origin] {
		return true
	}
	for _, s := range p.suffixes {
		rest, ok := strings.CutPrefix(origin, s[0])
		if ok && strings.HasSuffix(rest, s[1]) && len(rest) > len(s[1]) {
			return true
		}
	}
	return false
}

// CORS answers preflight requests with 204 for allowed origins and 403 for
// the rest. Other requests always reach next; allowed origins get the CORS
// response headers.
func CORS(cfg CORSConfig) Middleware {
	policy := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			w.Header().Add("Vary", "Origin")

			allowed := origin != "" && policy.allows(origin)
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				for k, v := range policy.headers {
					h.Set(k, v)
				}
			}
			if preflight {
				if allowed {
					w.WriteHeader(http.StatusNoContent)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
