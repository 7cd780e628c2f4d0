// File path: cmd/formloop-server/main.go
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"formloop/internal/api"
	"formloop/internal/common"
	"formloop/internal/engine"
	"formloop/internal/llm"
	"formloop/internal/registry"
	"formloop/internal/store"
)

func main() {
	logger := common.Logger()

	if err := godotenv.Load(); err != nil {
		logger.Warn("formloop: .env file not loaded", "error", err)
	} else {
		logger.Info("formloop: environment loaded from .env")
	}

	addr := flag.String("addr", ":8080", "listen address")
	schemaPath := flag.String("schema", "", "path to the form template JSON (defaults to FORMLOOP_SCHEMA)")
	mandatoryPath := flag.String("mandatory", "", "path to the mandatory-fields JSON (defaults to FORMLOOP_MANDATORY)")
	sessionsDir := flag.String("sessions", defaultSessionsDir(), "directory for session artifacts")
	registryPath := flag.String("registry", "", "path to the SQLite session registry (defaults under the sessions directory)")
	flag.Parse()

	cfg, err := engine.LoadConfig(*schemaPath, *mandatoryPath)
	if err != nil {
		logger.Error("formloop: configuration load failed", "error", err)
		fmt.Println("configuration error:", err)
		os.Exit(1)
	}

	blobs, err := store.NewFSStore(*sessionsDir)
	if err != nil {
		logger.Error("formloop: session store unavailable", "error", err)
		fmt.Println("session store error:", err)
		os.Exit(1)
	}

	regPath := strings.TrimSpace(*registryPath)
	if regPath == "" {
		regPath = filepath.Join(*sessionsDir, "registry.db")
	}
	reg, err := registry.OpenSQLite(regPath)
	if err != nil {
		logger.Error("formloop: session registry unavailable", "path", regPath, "error", err)
		fmt.Println("session registry error:", err)
		os.Exit(1)
	}
	defer reg.Close()

	provider := llm.NewProvider()
	logger.Info("formloop: llm provider ready", "provider", provider.Name())

	eng, err := engine.New(cfg, provider, blobs, reg)
	if err != nil {
		logger.Error("formloop: engine construction failed", "error", err)
		fmt.Println("engine error:", err)
		os.Exit(1)
	}

	server, err := api.NewServer(eng)
	if err != nil {
		logger.Error("formloop: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	logger.Info("formloop: server listening", "addr", *addr, "health", "/healthz")
	fmt.Printf("Serving on %s\n", *addr)
	reachable := *addr
	if strings.HasPrefix(reachable, ":") {
		reachable = "localhost" + reachable
	}
	logger.Info("formloop: verify reachability", "suggestion", fmt.Sprintf("curl http://%s/healthz", reachable))
	if err := http.ListenAndServe(*addr, server); err != nil {
		logger.Error("formloop: server stopped", "error", err)
		fmt.Println("server stopped:", err)
	}
}

func defaultSessionsDir() string {
	if v := os.Getenv("FORMLOOP_SESSIONS_DIR"); v != "" {
		return v
	}
	return filepath.Join("data", "sessions")
}
