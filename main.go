package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabpad/collab"
	"collabpad/handlers/api/assist"
	"collabpad/handlers/api/documents"
	"collabpad/handlers/auth"
	"collabpad/handlers/websocket"
	authMiddleware "collabpad/middleware"
	"collabpad/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func setupRouter(store stores.Store) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT)
			r.Route("/documents", func(r chi.Router) {
				r.Get("/", documents.HandleList(store))
				r.Post("/", documents.HandleCreate(store))
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", documents.HandleGet(store))
					r.Put("/", documents.HandleUpdate(store))
					r.Delete("/", documents.HandleDelete(store))
					r.Post("/collaborators", documents.HandleAddCollaborator(store))
					r.Delete("/collaborators/{userId}", documents.HandleRemoveCollaborator(store))
				})
			})
			r.Route("/assist", func(r chi.Router) {
				r.Post("/completions", assist.HandleChatCompletion())
			})
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", auth.HandleSignup(store))
		r.Post("/login", auth.HandleLogin(store))
		r.Get("/github/login", auth.HandleGitHubLogin)
		r.Get("/github/callback", auth.HandleGitHubCallback)
	})

	return r
}

func autosaveInterval() time.Duration {
	raw := os.Getenv("COLLAB_AUTOSAVE_INTERVAL")
	if raw == "" {
		return collab.DefaultAutosaveInterval
	}
	interval, err := time.ParseDuration(raw)
	if err != nil || interval <= 0 {
		logrus.WithField("value", raw).Warn("Invalid COLLAB_AUTOSAVE_INTERVAL, using default")
		return collab.DefaultAutosaveInterval
	}
	return interval
}

func waitForShutdown(ioo *socketio.Server, saves *collab.SaveScheduler) {
	exit := make(chan struct{})
	signalC := make(chan os.Signal, 1)

	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range signalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	fmt.Println("Shutting down...")
	saves.CancelAll()
	ioo.Close(nil)
	os.Exit(0)
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3003", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth()
	assist.Init()
	store := stores.GetStore()

	saves := collab.NewSaveScheduler(store, autosaveInterval())
	sessions := collab.NewManager(store, saves)

	r := setupRouter(store)

	ioo := websocket.SetupSocketIO(sessions)
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(ioo, saves)
}
