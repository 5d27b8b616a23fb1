package http

import (
	"net/http"
	"time"

	httpmw "github.com/cwrk-planet/chat-relay/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Deps struct {
	Handler     *Handler
	WS          http.HandlerFunc
	Metrics     http.Handler
	CORSOrigins []string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(httpmw.RequestLogger)
	r.Use(middlewareChi.Recoverer)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/", d.Handler.Index)
	r.Get("/healthz", d.Handler.Healthz)
	r.Get("/readyz", d.Handler.Readyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	// websocket upgrades are long-lived: no timeout middleware here
	if d.WS != nil {
		r.Get("/ws", d.WS)
	}

	r.Group(func(api chi.Router) {
		api.Use(middlewareChi.Timeout(30 * time.Second))
		api.Get("/api/messages/{roomId}", d.Handler.GetMessages)
	})

	return r
}
