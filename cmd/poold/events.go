package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atmx/liquidity-pool/internal/events"
	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/store"
)

func eventsCommand(load loader) *cobra.Command {
	var (
		from   string
		batch  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print engine events from Redis as JSON lines",
		Long: "Replays the event stream from --from (a stream id, \"0\" for the beginning) " +
			"and, with --follow, keeps printing live events until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if cfg.Redis.Addr == "" {
				return errors.New("events: redis.addr is not configured")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rdb, err := store.ConnectRedis(ctx, cfg.Redis.Store())
			if err != nil {
				return err
			}
			defer rdb.Close()

			bus := events.NewRedisBus(rdb, logger)
			return streamEvents(ctx, bus, cmd.OutOrStdout(), from, batch, follow)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "replay the stream after this id (\"0\" for everything)")
	cmd.Flags().IntVar(&batch, "batch", 500, "stream entries read per round trip")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing live events")
	return cmd
}

// streamEvents subscribes before replaying so nothing published in between
// is lost; live events already covered by the replay are skipped by seq.
func streamEvents(ctx context.Context, bus *events.RedisBus, w io.Writer, from string, batch int, follow bool) error {
	enc := json.NewEncoder(w)

	var live <-chan model.Event
	if follow {
		ch, err := bus.Subscribe(ctx)
		if err != nil {
			return err
		}
		live = ch
	}

	var lastSeq uint64
	if from != "" {
		next := from
		for {
			evs, id, err := bus.Replay(ctx, next, batch)
			if err != nil {
				return err
			}
			for _, e := range evs {
				if err := enc.Encode(e); err != nil {
					return err
				}
				lastSeq = e.Seq
			}
			if len(evs) == 0 || id == next {
				break
			}
			next = id
		}
	}

	if live == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-live:
			if !ok {
				return nil
			}
			if e.Seq <= lastSeq {
				continue
			}
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
	}
}
