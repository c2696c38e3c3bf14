package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"unisocial-auth/internal/audit"
	"unisocial-auth/internal/config"
	"unisocial-auth/internal/factory"
	"unisocial-auth/internal/handler"
	"unisocial-auth/internal/model"
	"unisocial-auth/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	router := setupRouter(f)

	// Background work shares one context cancelled at shutdown
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	startPurgeLoop(bgCtx, f)
	startMailerWorkers(bgCtx, f)

	var serverAddr string
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	} else {
		serverAddr = cfg.GetServerAddress()
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		tlsManager := f.TLSManager()
		server.TLSConfig = tlsManager.GetTLSConfig()

		// In production with AutoCert, handle redirect and cert management
		if cfg.IsProduction() && cfg.Server.AutoCert {
			startProductionServerWithAutoCert(f, bgCancel, server, cfg, router)
			return
		}

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	startServer(f, bgCancel, server, cfg)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	authService := f.AuthService()

	var authHandler *handler.AuthHandler
	if recorder := f.AuditRecorder(); recorder != nil {
		authHandler = handler.NewAuthHandler(authService, recorder, util.Get())
	} else {
		authHandler = handler.NewAuthHandler(authService, nil, util.Get())
	}

	return handler.NewRouter(authHandler, f.Config().Server.EnableTLS, util.Get())
}

// startPurgeLoop periodically deletes expired blacklist rows. A failed run is
// logged and retried on the next tick; the rows it would have removed are
// inert either way since the tokens they describe are already unverifiable.
func startPurgeLoop(ctx context.Context, f *factory.Factory) {
	interval := f.Config().Purge.Interval
	authService := f.AuthService()
	recorder := f.AuditRecorder()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		util.Info("Blacklist purge loop started", util.Duration("interval", interval))

		for {
			select {
			case <-ctx.Done():
				util.Info("Blacklist purge loop stopped")
				return
			case <-ticker.C:
				purgeCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
				deleted, err := authService.PurgeExpiredTokens(purgeCtx)
				cancel()
				if err != nil {
					util.Error("Blacklist purge failed", util.ErrorField(err))
				} else {
					util.Info("Blacklist purge completed", util.Int("deleted", deleted))
				}
				if recorder != nil {
					detail := fmt.Sprintf("deleted=%d", deleted)
					if err != nil {
						detail = err.Error()
					}
					recorder.Record(model.AuthEvent{
						EventType: audit.EventPurge,
						Success:   err == nil,
						Detail:    detail,
					})
				}
			}
		}
	}()
}

func startMailerWorkers(ctx context.Context, f *factory.Factory) {
	pool := f.MailerPool()
	if pool == nil {
		util.Warn("Mailer workers not started - Kafka consumer unavailable")
		return
	}

	go func() {
		if err := pool.Run(ctx); err != nil {
			util.Error("Mailer workers exited", util.ErrorField(err))
		}
	}()
}

func startProductionServerWithAutoCert(f *factory.Factory, bgCancel context.CancelFunc, server *http.Server, cfg *config.Config, router http.Handler) {
	tlsManager := f.TLSManager()
	autoCertManager := tlsManager.GetAutocertManager()
	if autoCertManager == nil {
		util.Fatal("AutoCert manager is not available in production")
	}

	// HTTP server for ACME challenge and redirect only
	httpServer := &http.Server{
		Addr:    ":80",
		Handler: autoCertManager.HTTPHandler(nil),
	}

	httpsServer := &http.Server{
		Addr:      ":443",
		Handler:   router,
		TLSConfig: server.TLSConfig,
	}

	go func() {
		util.Info("Starting HTTP redirect server on port 80")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Error("HTTP redirect server failed", util.ErrorField(err))
		}
	}()

	go func() {
		util.Info("Starting HTTPS server with AutoCert on port 443",
			util.String("domain", cfg.Server.Domain),
		)
		if err := httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			util.Error("HTTPS AutoCert server failed", util.ErrorField(err))
		}
	}()

	waitForShutdown(f, bgCancel, httpsServer, httpServer)
}

func startServer(f *factory.Factory, bgCancel context.CancelFunc, server *http.Server, cfg *config.Config) {
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
				err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
			} else {
				err = server.ListenAndServeTLS("", "")
			}
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	waitForShutdown(f, bgCancel, server)
}

func waitForShutdown(f *factory.Factory, bgCancel context.CancelFunc, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
			} else {
				util.Info("Server shutdown completed")
			}
		}
	}
	f.Close()
}
