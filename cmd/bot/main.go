package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	cli "github.com/spf13/pflag"
)

// Stand-in worker: it honors the launcher's contract (-u room url, -t token,
// exit on SIGTERM) without running a voice pipeline. Point bot.command at the
// real pipeline binary in production.
func main() {
	roomURL := cli.StringP("url", "u", "", "Room URL to join")
	token := cli.StringP("token", "t", "", "Room access token")
	maxDuration := cli.Duration("max-duration", 0, "Exit after this long (0 = run until signaled)")
	cli.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	godotenv.Load()

	if *roomURL == "" || *token == "" {
		log.Fatal().Msg("room url (-u) and token (-t) are required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Int("pid", os.Getpid()).Str("room", *roomURL).Msg("bot joined room")

	if *maxDuration > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(*maxDuration):
			log.Info().Dur("after", *maxDuration).Msg("max session duration reached")
		}
	} else {
		<-ctx.Done()
	}

	log.Info().Str("room", *roomURL).Msg("bot leaving room")
}
