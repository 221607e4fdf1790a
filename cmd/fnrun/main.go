package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/watzon/fnrun/internal/cli"
	"github.com/watzon/fnrun/internal/orchestrator"
)

func main() {
	if err := cli.Execute(); err != nil {
		ev := log.Error().Err(err)
		if kind, ok := orchestrator.KindOf(err); ok {
			ev = ev.Str("kind", kind.String())
		}
		ev.Msg("fnrun failed")
		os.Exit(1)
	}
}
