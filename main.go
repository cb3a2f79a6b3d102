package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"

	"github.com/ospolova/SHTS/auth"
	"github.com/ospolova/SHTS/certgen"
	"github.com/ospolova/SHTS/config"
	"github.com/ospolova/SHTS/fileserver"
	"github.com/ospolova/SHTS/metrics"
	"github.com/ospolova/SHTS/stats"
	"github.com/ospolova/SHTS/timer"
)

const (
	serverConfigPath = "./resources/config.json"

	// UsersDbDirectory is the directory of storing the admin credentials database.
	UsersDbDirectory = "./users-data"

	// UsersDbName is a name of the credentials database.
	UsersDbName = "users.db"

	logPrefix       = "SHTS"
	shutdownTimeout = 5 * time.Second
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          logPrefix,
})

var (
	configPath = flag.String("config", serverConfigPath, "path to the JSON server config")
	rootDir    = flag.String("root", "", "directory to serve, overrides the config")
	port       = flag.Int("port", 0, "HTTPS port, overrides the config")
	generate   = flag.Bool("generate", false, "generate a self-signed certificate pair if it is missing")
)

func loadConfig() *config.ServerConfig {
	serverReader, err := config.NewServerReader(*configPath)
	if err != nil {
		if os.IsNotExist(err) && *configPath == serverConfigPath {
			logger.Info("No config file, using defaults", "path", *configPath)
			return config.Default()
		}
		logger.Fatal("Failed to open config", "path", *configPath, "err", err)
	}
	defer func(serverReader *config.ServerReader) {
		if err := serverReader.Close(); err != nil {
			logger.Fatal("Failed to close config", "err", err)
		}
	}(serverReader)

	serverConfig, err := serverReader.ReadServerConfig()
	if err != nil {
		logger.Fatal("Failed to parse config", "path", *configPath, "err", err)
	}
	return serverConfig
}

// ensureCertificates terminates the process if the certificate pair is
// missing, printing how to create one. Nothing is bound before this check.
func ensureCertificates(serverConfig *config.ServerConfig) {
	err := certgen.EnsurePair(serverConfig.CertFile, serverConfig.KeyFile, *generate)
	if err == nil {
		return
	}

	if errors.Is(err, certgen.ErrMissingCert) || errors.Is(err, certgen.ErrMissingKey) {
		logger.Error("Certificate files not found", "cert", serverConfig.CertFile, "key", serverConfig.KeyFile)
		fmt.Println("\nGenerate them with:")
		fmt.Println(certgen.RemediationCommand)
		fmt.Println("\nor run again with -generate")
		os.Exit(1)
	}
	logger.Fatal("Failed to generate certificates", "err", err)
}

func printBanner(serverConfig *config.ServerConfig) {
	logger.Info("HTTPS server started, client-side caching disabled")
	logger.Info("Access on this computer", "url", fmt.Sprintf("https://localhost:%d", serverConfig.Port))
	for _, ip := range certgen.LocalIPs() {
		logger.Info("Access on the same network", "url", fmt.Sprintf("https://%s:%d", ip, serverConfig.Port))
	}
	logger.Info("The certificate is self-signed: accept the browser warning via 'Advanced'")
	logger.Info("Admin endpoints", "addr", fmt.Sprintf("http://127.0.0.1:%d", serverConfig.AdminPort))
	logger.Info("Press Ctrl+C to stop")
}

func main() {
	flag.Parse()
	timer.LoggerConfig(logPrefix)

	// server configuration
	serverConfig := loadConfig()
	if *rootDir != "" {
		serverConfig.Root = *rootDir
	}
	if *port != 0 {
		serverConfig.Port = *port
	}

	validate := validator.New()
	if err := serverConfig.Validate(validate); err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	// the certificate check happens before any socket or database is touched
	ensureCertificates(serverConfig)

	metrics.Init()

	logger.Info("Opening statistics database", "path", serverConfig.StatsPath)
	statsService := &stats.Service{}
	if err := statsService.Connect(serverConfig.StatsPath, 0600, nil); err != nil {
		logger.Fatal("Statistics DB error", "err", err)
	}
	defer func() {
		if err := statsService.Close(); err != nil {
			logger.Error("Failed to close statistics DB", "err", err)
		}
	}()
	statsService.SetLogger(logger)

	observeTicker := time.NewTicker(time.Duration(serverConfig.ObservePeriodSeconds) * time.Second)
	defer observeTicker.Stop()
	go statsService.Observe(observeTicker)

	// admin credentials
	if err := os.Mkdir(UsersDbDirectory, 0770); err != nil && !os.IsExist(err) {
		logger.Fatal("Credentials directory creation error", "err", err)
	}

	users := &auth.Users{}
	if err := users.Connect(UsersDbDirectory+"/"+UsersDbName, 0600, nil); err != nil {
		logger.Fatal("Credentials DB error", "err", err)
	}
	defer func() {
		if err := users.Close(); err != nil {
			logger.Error("Failed to close credentials DB", "err", err)
		}
	}()
	users.SetLogger(logger)

	authService, err := auth.New(users, validate, logger)
	if err != nil {
		logger.Fatal("Failed to create auth service", "err", err)
	}

	password, created, err := authService.Bootstrap()
	if err != nil {
		logger.Fatal("Failed to bootstrap the admin user", "err", err)
	}
	if created {
		logger.Info("Admin user created, the password is shown only once",
			"username", auth.BootstrapUsername, "password", password)
	}

	server := fileserver.New(
		fileserver.NewConfig(serverConfig.Root, serverConfig.MaxClients),
		statsService,
		logger,
	)
	logger.Info("Serving files", "root", server.Config().Root(), "maxClients", server.Config().MaxClients())

	// admin surface stays loopback-only and plain HTTP
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/auth/signin", authService.SignIn)
	adminMux.HandleFunc("/auth/password", authService.ChangePassword)
	adminMux.HandleFunc("/admin/users", authService.WithAuth(authService.DeleteUserHandler))
	adminMux.HandleFunc("/admin/stats", authService.WithAuth(server.StatsHandler))
	adminMux.Handle("/metrics", metrics.Handler())

	adminServer := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", serverConfig.AdminPort),
		Handler: adminMux,
	}
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin listener error", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/", server.ServeFilesHandler)

	// Config TLS: setting a pair crt-key
	crt, err := tls.LoadX509KeyPair(serverConfig.CertFile, serverConfig.KeyFile)
	if err != nil {
		logger.Fatal("Failed to load the certificate pair", "err", err)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{crt}}

	// Start listening
	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", serverConfig.Port), tlsConfig)
	if err != nil {
		logger.Fatal("There's a problem with listening", "port", serverConfig.Port, "err", err)
	}

	httpsServer := &http.Server{Handler: mux}
	go func() {
		if err := httpsServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Serving error", "err", err)
		}
	}()

	printBanner(serverConfig)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	logger.Info("Interrupt received, shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpsServer.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error", "err", err)
	}
	if err := adminServer.Shutdown(ctx); err != nil {
		logger.Error("Admin shutdown error", "err", err)
	}
	logger.Info("Server stopped")
}
