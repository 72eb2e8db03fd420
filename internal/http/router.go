package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	apiKey string
	logger *zap.Logger
}

func NewRouter(apiKey string, logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		apiKey: apiKey,
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// authed 包一层静态 bearer token 鉴权
func (r *Router) authed(h http.HandlerFunc) http.HandlerFunc {
	return BearerAuth(r.apiKey, h)
}

// RegisterRoutes 注册全部 API 路由
func (r *Router) RegisterRoutes(
	devices *DeviceHandler,
	healthData *HealthDataHandler,
	users *UserHandler,
	sessions *SessionHandler,
) {
	// welcome（无鉴权）
	r.Handle("/", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, Ok("Welcome to the Health Monitoring API!", nil))
	})

	r.Handle("/api/v1/devices/status", r.authed(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		devices.UpdateStatus(w, req)
	}))

	r.Handle("/api/v1/health-data/raw", r.authed(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		healthData.Ingest(w, req)
	}))

	r.Handle("/api/v1/users/register", r.authed(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		users.Register(w, req)
	}))

	r.Handle("/api/v1/users/export", r.authed(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		users.Export(w, req)
	}))

	// users/{userId}
	r.Handle("/api/v1/users/", r.authed(func(w http.ResponseWriter, req *http.Request) {
		id := strings.TrimPrefix(req.URL.Path, "/api/v1/users/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		users.Submit(w, req, id)
	}))

	r.Handle("/api/v1/sessions", r.authed(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sessions.Start(w, req)
	}))

	// sessions/{userId} 和 sessions/{userId}/retry
	r.Handle("/api/v1/sessions/", r.authed(func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/sessions/")
		if rest == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if id, ok := strings.CutSuffix(rest, "/retry"); ok {
			if id == "" || strings.Contains(id, "/") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if req.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			sessions.Retry(w, req, id)
			return
		}
		if strings.Contains(rest, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch req.Method {
		case http.MethodGet:
			sessions.Get(w, req, rest)
		case http.MethodDelete:
			sessions.Stop(w, req, rest)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}
