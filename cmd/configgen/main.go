package main

import (
	"flag"
	"os"

	"github.com/danmuck/edgemsg/internal/config"
	"github.com/danmuck/edgemsg/internal/logging"
)

const defaultPath = "cmd/edgemsg/config.toml"

func main() {
	logging.ConfigureRuntime()
	log := logging.For("configgen")

	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if _, err := config.Load(*input); err != nil {
			log.Error().Err(err).Msg("config validation failed")
			os.Exit(1)
		}
		log.Info().Str("path", *input).Msg("validated config")
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Error().Err(err).Msg("failed to write config template")
		os.Exit(1)
	}
	log.Info().Str("path", *output).Msg("wrote config template")
}
