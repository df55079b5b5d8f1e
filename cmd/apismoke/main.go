package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/codeindexer/internal/logging"
	"github.com/seanblong/codeindexer/internal/smoke"
	"github.com/spf13/pflag"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	fs := pflag.NewFlagSet("apismoke", pflag.ExitOnError)
	url := fs.String("url", envOr("VLLM_URL", smoke.DefaultURL), "Base URL of the OpenAI-compatible server")
	apiKey := fs.String("api-key", envOr("OPENAI_API_KEY", smoke.DefaultAPIKey), "API key")
	model := fs.String("model", smoke.DefaultModel, "Model used for the completion checks")
	logLevel := fs.String("log-level", "warn", "Log level (debug|info|warn|error)")
	_ = fs.Parse(os.Args[1:])

	if err := logging.Setup(*logLevel, "console"); err != nil {
		log.Error().Err(err).Msg("failed to configure logging")
		os.Exit(1)
	}

	tester := smoke.New(*url, *apiKey, *model, os.Stdout)
	if _, ok := tester.RunAll(context.Background()); !ok {
		os.Exit(1)
	}
}
