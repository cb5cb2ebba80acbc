package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/danmuck/lotteryd/internal/agency"
	"github.com/danmuck/lotteryd/internal/logging"
)

func main() {
	id := pflag.Uint8("id", 1, "agency identifier (frame sender byte)")
	server := pflag.String("server", "127.0.0.1:9030", "lotteryd address")
	bets := pflag.String("bets", "bets.csv", "path to the bets CSV file")
	batchSize := pflag.Int("batch-size", agency.DefaultBatchSize, "records per BET frame")
	pflag.Parse()

	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := agency.New(agency.Config{
		ID:            *id,
		ServerAddress: *server,
		BetsPath:      *bets,
		BatchSize:     *batchSize,
	})
	winners, err := client.Run(ctx)
	if err != nil {
		log.Error().
			Err(err).
			Uint8("agency", *id).
			Str("action", "query_winners").
			Str("result", "fail").
			Msg("session aborted")
		fmt.Fprintf(os.Stderr, "agencyctl: %v\n", err)
		os.Exit(1)
	}
	log.Info().
		Uint8("agency", *id).
		Int("winners", winners).
		Str("action", "query_winners").
		Str("result", "success").
		Msg("lottery result received")
	fmt.Println(winners)
}
