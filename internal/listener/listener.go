// Package listener keeps the campaign snapshot in sync with the database
// through Postgres LISTEN/NOTIFY.
package listener

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"rtb-bidder/internal/campaign"
)

// Loader produces the full set of database campaigns.
type Loader interface {
	Campaigns(ctx context.Context) ([]*campaign.Campaign, error)
}

const debounce = 200 * time.Millisecond

// Refresh replaces the database campaigns in the served snapshot with
// whatever the loader returns. Campaigns from the campaign file or inline
// commands are kept. On failure the current snapshot stays in place.
func Refresh(ctx context.Context, loader Loader, store *campaign.Store) error {
	cs, err := loader.Campaigns(ctx)
	if err != nil {
		return err
	}
	if err := store.Sync(campaign.OriginDatabase, cs); err != nil {
		return err
	}
	log.Info().Int("campaigns", len(cs)).Msg("campaign snapshot refreshed")
	return nil
}

// ListenAndRefresh blocks until ctx is done, refreshing the snapshot after
// every burst of notifications on channel. Connection failures are retried
// after a jittered backoff, followed by a full refresh to cover anything
// missed while disconnected.
func ListenAndRefresh(ctx context.Context, pool *pgxpool.Pool, loader Loader, store *campaign.Store, channel string, baseBackoff time.Duration) {
	first := true
	for ctx.Err() == nil {
		err := listen(ctx, pool, loader, store, channel, !first)
		first = false
		if ctx.Err() != nil {
			break
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Str("channel", channel).Dur("retry_in", backoff).Msg("listen failed")
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
	log.Info().Msg("listener stopped")
}

func listen(ctx context.Context, pool *pgxpool.Pool, loader Loader, store *campaign.Store, channel string, resync bool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for DB changes")

	if resync {
		if err := Refresh(ctx, loader, store); err != nil {
			log.Error().Err(err).Msg("refresh snapshot error")
		}
	}

	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		// swallow the rest of the burst
		for {
			wctx, cancel := context.WithTimeout(ctx, debounce)
			_, err := conn.Conn().WaitForNotification(wctx)
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			break
		}

		log.Info().Str("channel", ntf.Channel).Str("payload", ntf.Payload).Msg("db change; refreshing snapshot")
		if err := Refresh(ctx, loader, store); err != nil {
			log.Error().Err(err).Msg("refresh snapshot error")
		}
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
