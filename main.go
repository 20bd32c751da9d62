package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/tunnelx/tunnelx/internal/auth"
	"github.com/tunnelx/tunnelx/internal/config"
	"github.com/tunnelx/tunnelx/internal/database"
	"github.com/tunnelx/tunnelx/internal/handlers"
	"github.com/tunnelx/tunnelx/internal/logging"
	"github.com/tunnelx/tunnelx/internal/middleware"
	"github.com/tunnelx/tunnelx/internal/notify"
	"github.com/tunnelx/tunnelx/internal/splittunnel"
	"github.com/tunnelx/tunnelx/internal/vpn"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		}
	}

	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	presets, err := config.LoadPresets(config.Cfg.SplitTunnelPresets)
	if err != nil {
		log.Printf("WARNING: split-tunnel presets: %v", err)
	}

	hub := notify.NewHub()
	dir := notify.NewDirectory(config.Cfg.UnbindGrace)
	runner := &vpn.OpenVPNRunner{
		BinaryPath:  config.Cfg.OpenVPNPath,
		ConfigPath:  config.Cfg.OpenVPNConfig,
		Credentials: handlers.VPNCredentialStore{},
	}
	orch := vpn.NewOrchestrator(
		vpn.NewRegistry(config.Cfg.ManagementPortMin, config.Cfg.ManagementPortMax),
		runner,
		dir,
		hub,
		vpn.ConnectionStoreFunc(database.SetUserConnected),
		config.Cfg.PollInterval,
	)

	handlers.Orch = orch
	handlers.Hub = hub
	handlers.Dir = dir
	handlers.SplitTunnel = splittunnel.New(config.Cfg.SplitTunnelGateway)
	handlers.SplitTunnelPresets = presets

	// Stale connection flags from a previous run are cleared once on boot,
	// then periodically in case a flag and the registry drift apart.
	if n, err := reconcileConnectionFlags(orch.Registry()); err != nil {
		log.Printf("WARNING: reconcile connection flags: %v", err)
	} else if n > 0 {
		log.Printf("Cleared %d stale connection flags", n)
	}

	jobs := cron.New()
	jobs.AddFunc("@every 1m", func() {
		if _, err := reconcileConnectionFlags(orch.Registry()); err != nil {
			log.Printf("WARNING: reconcile connection flags: %v", err)
		}
	})
	jobs.AddFunc("@daily", func() {
		if n, err := database.PurgeExpiredRefreshTokens(); err != nil {
			log.Printf("WARNING: purge refresh tokens: %v", err)
		} else if n > 0 {
			log.Printf("Purged %d expired refresh tokens", n)
		}
	})
	jobs.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// No auth
	r.Get("/health", handlers.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", handlers.PushSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", handlers.Register)
		r.Post("/auth/login", handlers.Login)
		r.Post("/auth/refresh", handlers.Refresh)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			r.Post("/auth/logout", handlers.Logout)
			r.Post("/auth/reset-pwd", handlers.ResetPassword)
			r.Post("/auth/stats", handlers.UserStats)
			r.Get("/me", handlers.Me)

			r.Post("/vpn/connect", handlers.Connect)
			r.Post("/vpn/disconnect", handlers.Disconnect)
			r.Post("/vpn/split-tunnel", handlers.ApplySplitTunnel)

			// Admin only
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Get("/users", handlers.ListUsers)
				r.Post("/users/{userId}/add-admin", handlers.AddAdmin)
				r.Post("/users/{userId}/remove-admin", handlers.RemoveAdmin)
				r.Post("/users/{userId}/disconnect", handlers.AdminDisconnect)

				r.Get("/vpn/stats", handlers.ListStats)
				r.Get("/settings/vpn-credentials", handlers.GetVPNCredentials)
				r.Put("/settings/vpn-credentials", handlers.UpdateVPNCredentials)
			})
		})
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	jobs.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	orch.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *email == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: tunnelx --%s --email <email> --password <pass>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	switch command {
	case "create-admin":
		user := &database.User{
			Email:        *email,
			PasswordHash: hash,
			Role:         "admin",
		}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *email)

	case "reset-password":
		user, err := database.GetUserByEmail(*email)
		if err != nil {
			log.Fatalf("User '%s' not found", *email)
		}
		if err := database.UpdateUserPassword(user.ID, hash); err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		if err := database.DeleteUserRefreshTokens(user.ID); err != nil {
			log.Printf("WARNING: revoke refresh tokens: %v", err)
		}
		fmt.Printf("Password reset for '%s'.\n", *email)
	}
}
