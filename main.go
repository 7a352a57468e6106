package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/featureforge/featureforge/api"
	"github.com/featureforge/featureforge/chat"
	"github.com/featureforge/featureforge/config"
	"github.com/featureforge/featureforge/log"
	"github.com/featureforge/featureforge/projects"
)

func main() {
	cfg := config.Get()

	resolver, err := projects.NewResolver(cfg.ProjectsDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ProjectsDir).Msg("failed to initialize projects directory")
	}

	registry := chat.NewRegistry(chat.Config{
		Model:     cfg.Model,
		CliPath:   cfg.ClaudeCliPath,
		MaxTurns:  cfg.MaxAgentTurns,
		SkillPath: cfg.SkillPath(),
	})

	// Set Gin to release mode to disable its default debug logging.
	// We use our own zerolog-based request logger instead.
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(log.GinLogger())

	// CORS for development
	if cfg.IsDevelopment() {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
		r.Use(cors.New(corsCfg))
	}

	// Gzip responses, but never the websocket upgrade path
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`^/api/projects/.+/feature-chat/ws$`})))

	r.SetTrustedProxies(nil)

	handlers := api.NewHandlers(resolver, registry)
	api.SetupRoutes(r, handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:     addr,
		Handler:  r,
		ErrorLog: log.StdErrorLogger(),
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Str("env", cfg.Env).
			Str("projectsDir", cfg.ProjectsDir).
			Msg("server starting")

		printNetworkAddresses(cfg.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Close chat sessions first so agent subprocesses exit
	registry.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}

func printNetworkAddresses(port int) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					log.Info().Str("url", fmt.Sprintf("http://%s:%d", ip4.String(), port)).Msg("network")
				}
			}
		}
	}
}
