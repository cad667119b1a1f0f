package main

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/atrniv/coproc/config"
	"github.com/atrniv/coproc/coproc"
	"github.com/atrniv/coproc/protocol"
	"github.com/atrniv/coproc/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	uuid "github.com/satori/go.uuid"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// transforms available to the harness by name.
var transforms = map[string]func() coproc.Transform{
	"identity": coproc.Identity,
	"drop": func() coproc.Transform {
		return coproc.Filter(func(protocol.Record) bool { return false })
	},
	"drop-null-values": func() coproc.Transform {
		return coproc.Filter(func(r protocol.Record) bool { return r.Value != nil })
	},
	"upper-values": func() coproc.Transform {
		return coproc.Map(func(r protocol.Record) protocol.Record {
			if r.Value != nil {
				r.Value = bytes.ToUpper(r.Value)
			}
			return r
		})
	},
}

// Reads a record set from stdin, runs every batch through the configured
// transform and writes the output batches to stdout.
func main() {
	cfg := config.Default()
	if path := os.Getenv("COPROC_CONFIG"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Invalid configuration")
		}
	}
	zerolog.SetGlobalLevel(cfg.Level())

	newTransform, ok := transforms[cfg.Transform]
	if !ok {
		log.Fatal().Str("transform", cfg.Transform).Msg("Unknown transform")
	}
	transform := newTransform()
	if injection, ok := cfg.PolicyInjection(); ok {
		transform = coproc.Inject(transform, injection)
	}
	probe, err := coproc.NewProbe(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not register metrics")
	}
	engine := coproc.NewEngine(log.Logger, probe)
	id, err := engine.Register(transform, cfg.ScriptOptions()...)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not register transform")
	}

	input, err := ioutil.ReadAll(os.Stdin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not read input")
	}
	batches, err := protocol.SplitRecordBatches(input)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not frame input")
	}

	for _, data := range batches {
		if cfg.Debug {
			if batch, err := protocol.DecodeRecordBatch(data); err == nil {
				util.Debug("IN", batch)
			}
		}
		result, err := process(engine, id, data, cfg.BatchTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("Batch processing failed")
		}
		if result.Status != coproc.StatusComplete {
			log.Error().
				Str("status", result.Status.String()).
				Err(result.Failure).
				Int("processed", result.Processed).
				Msg("Batch abandoned")
			os.Exit(2)
		}
		if cfg.Debug {
			util.Debug(fmt.Sprintf("OUT %s", id), result.Records)
		}
		if _, err := os.Stdout.Write(result.Output); err != nil {
			log.Fatal().Err(err).Msg("Could not write output")
		}
	}
}

func process(engine *coproc.Engine, id uuid.UUID, data []byte, timeout time.Duration) (coproc.Result, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return engine.Process(ctx, id, data)
}
