// File path: cmd/formloop/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"formloop/internal/common"
	"formloop/internal/engine"
	"formloop/internal/interview"
	"formloop/internal/llm"
	"formloop/internal/registry"
	"formloop/internal/store"
)

func main() {
	logger := common.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("formloop: .env file not loaded", "error", err)
	} else {
		logger.Info("formloop: environment loaded from .env")
	}

	schemaPath := flag.String("schema", "", "path to the form template JSON (defaults to FORMLOOP_SCHEMA)")
	mandatoryPath := flag.String("mandatory", "", "path to the mandatory-fields JSON (defaults to FORMLOOP_MANDATORY)")
	sessionsDir := flag.String("sessions", defaultSessionsDir(), "directory for session artifacts")
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

	provider := llm.NewProvider()
	logger.Info("formloop: llm provider ready", "provider", provider.Name())

	eng, err := engine.New(cfg, provider, blobs, registry.NewMemoryRegistry())
	if err != nil {
		logger.Error("formloop: engine construction failed", "error", err)
		fmt.Println("engine error:", err)
		os.Exit(1)
	}

	iv := interview.New(eng, os.Stdin, os.Stdout)
	if err := iv.Run(ctx); err != nil {
		logger.Error("formloop: interview aborted", "error", err)
		fmt.Println("interview error:", err)
		os.Exit(1)
	}
}

func defaultSessionsDir() string {
	if v := os.Getenv("FORMLOOP_SESSIONS_DIR"); v != "" {
		return v
	}
	return filepath.Join("data", "sessions")
}
