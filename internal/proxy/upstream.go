package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/brinkwatch/admission-guard/internal/logger"
)

// newUpstreamHandler returns a reverse proxy forwarding every admitted
// request to target, the single backend this instance admission-controls.
func newUpstreamHandler(target *url.URL, timeout time.Duration, log *logger.Logger) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = &http.Transport{ResponseHeaderTimeout: timeout}

	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		if _, ok := req.Header["User-Agent"]; !ok {
			req.Header.Set("User-Agent", "admission-guard/0.1.0")
		}
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("upstream proxy error", zap.Error(err), zap.String("path", r.URL.Path))
		http.Error(w, fmt.Sprintf("upstream error: %v", err), http.StatusBadGateway)
	}

	return proxy
}
