// Command authserver runs the authentication service of the gateway:
// session login, OAuth2 issuance, and the account API, backed by Redis.
package main

import (
	"context"
	"embed"
	"html/template"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blufax/authcore"
	"github.com/blufax/authcore/httpapi"
	"github.com/blufax/authcore/internal/audit"
	"github.com/blufax/authcore/password"
	"github.com/blufax/authcore/userstore"
)

//go:embed templates/*.html
var templateFS embed.FS

type templateRenderer struct {
	templates *template.Template
}

func (t *templateRenderer) Render(w http.ResponseWriter, view string, data map[string]any) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return t.templates.ExecuteTemplate(w, view+".html", data)
}

func main() {
	cfg, redisAddr, err := authcore.FromEnv()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("redis at %s: %v", redisAddr, err)
	}
	cancel()

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		log.Fatalf("password hasher: %v", err)
	}

	users := userstore.New(redisClient, cfg.RedisPrefix+":aus")
	clients := userstore.NewClients(redisClient, cfg.RedisPrefix+":acl", hasher)
	settings := userstore.NewSettingsStore(redisClient, cfg.RedisPrefix+":aset", cfg.Settings)

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(redisClient).
		WithUserProvider(users).
		WithClientProvider(clients).
		WithSettings(settings).
		WithAuditSink(audit.NewJSONWriterSink(os.Stdout)).
		Build()
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer engine.Close()

	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		log.Fatalf("templates: %v", err)
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewServer(engine, &templateRenderer{templates: templates}, cfg.Cookie.Production).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
