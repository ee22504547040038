package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rtb-bidder/internal/campaign"
	"rtb-bidder/internal/config"
)

var ErrCampaignNotFound = errors.New("campaign not found")

type Store struct {
	pool    *pgxpool.Pool
	channel string
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool, channel: cfg.Listener.Channel}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const selectCampaigns = `
	SELECT owner, id, price, adomain, attributes, creatives
	FROM campaigns
	WHERE status = 'ACTIVE'`

// LoadActiveCampaigns returns the definition of every active campaign.
func (s *Store) LoadActiveCampaigns(ctx context.Context) ([]campaign.Spec, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, selectCampaigns+` ORDER BY owner, id`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []campaign.Spec
	for rows.Next() {
		spec, err := scanSpec(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// GetCampaign loads one active campaign.
func (s *Store) GetCampaign(ctx context.Context, owner, id string) (campaign.Spec, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.pool.QueryRow(ctx, selectCampaigns+` AND owner = $1 AND id = $2`, owner, id)
	spec, err := scanSpec(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return campaign.Spec{}, fmt.Errorf("%w: %s/%s", ErrCampaignNotFound, owner, id)
	}
	return spec, err
}

// Campaigns loads and compiles every active campaign. A campaign that fails
// to build fails the whole load so a bad row never silently disappears.
func (s *Store) Campaigns(ctx context.Context) ([]*campaign.Campaign, error) {
	specs, err := s.LoadActiveCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	return campaign.BuildAll(specs)
}

func scanSpec(row pgx.Row) (campaign.Spec, error) {
	var (
		owner, id, adomain string
		price              float64
		attrs, creatives   []byte
	)
	if err := row.Scan(&owner, &id, &price, &adomain, &attrs, &creatives); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return campaign.Spec{}, err
		}
		return campaign.Spec{}, fmt.Errorf("scan row: %w", err)
	}
	return decodeSpec(owner, id, price, adomain, attrs, creatives)
}

func decodeSpec(owner, id string, price float64, adomain string, attrs, creatives []byte) (campaign.Spec, error) {
	spec := campaign.Spec{Owner: owner, ID: id, Price: price, AdDomain: adomain}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &spec.Attributes); err != nil {
			return campaign.Spec{}, fmt.Errorf("decode attributes of %s/%s: %w", owner, id, err)
		}
	}
	if len(creatives) > 0 {
		if err := json.Unmarshal(creatives, &spec.Creatives); err != nil {
			return campaign.Spec{}, fmt.Errorf("decode creatives of %s/%s: %w", owner, id, err)
		}
	}
	return spec, nil
}

func (s *Store) ListenChannel() string {
	if s.channel == "" {
		return "campaigns_changed"
	}
	return s.channel
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
