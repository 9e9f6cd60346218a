package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Serializable commit units are retried on SQLSTATE 40001 with doubling
// backoff, capped at maxRetryDelay.
const (
	maxTxAttempts  = 8
	baseRetryDelay = 75 * time.Millisecond
	maxRetryDelay  = 1200 * time.Millisecond
)

// Connect opens a pgx pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// --- Players and price samples ---

func (s *PostgresStore) UpsertPlayer(ctx context.Context, p *model.Player) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO players (id, game_name, tag_line, name_key, delta_8h, delta_24h, delta_72h, delisted_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET delta_8h = EXCLUDED.delta_8h,
		     delta_24h = EXCLUDED.delta_24h,
		     delta_72h = EXCLUDED.delta_72h,
		     delisted_at = COALESCE(players.delisted_at, EXCLUDED.delisted_at)`,
		p.ID, p.GameName, p.TagLine, nameKey(p.GameName, p.TagLine),
		p.Delta8h.String(), p.Delta24h.String(), p.Delta72h.String(),
		p.DelistedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("player %s#%s: %w", p.GameName, p.TagLine, ErrDuplicate)
	}
	return err
}

const playerColumns = `id, game_name, tag_line, delta_8h::TEXT, delta_24h::TEXT, delta_72h::TEXT, delisted_at`

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	var d8, d24, d72 string
	if err := row.Scan(&p.ID, &p.GameName, &p.TagLine, &d8, &d24, &d72, &p.DelistedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Delta8h, err = parseNumeric("delta_8h", d8); err != nil {
		return nil, err
	}
	if p.Delta24h, err = parseNumeric("delta_24h", d24); err != nil {
		return nil, err
	}
	if p.Delta72h, err = parseNumeric("delta_72h", d72); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	p, err := scanPlayer(s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", id, notFound(err))
	}
	return p, nil
}

func (s *PostgresStore) GetPlayerByName(ctx context.Context, gameName, tagLine string) (*model.Player, error) {
	p, err := scanPlayer(s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE name_key = $1`, nameKey(gameName, tagLine)))
	if err != nil {
		return nil, fmt.Errorf("get player %s#%s: %w", gameName, tagLine, notFound(err))
	}
	return p, nil
}

func (s *PostgresStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+playerColumns+` FROM players ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (s *PostgresStore) AppendPriceSample(ctx context.Context, sample model.PriceSample) error {
	if math.IsNaN(sample.Metric) || math.IsInf(sample.Metric, 0) {
		return fmt.Errorf("sample for %s metric %v: %w", sample.PlayerID, sample.Metric, ErrInvalidSample)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_samples (player_id, ts, metric) VALUES ($1, $2, $3)
		 ON CONFLICT (player_id, ts) DO UPDATE SET metric = EXCLUDED.metric`,
		sample.PlayerID, sample.Timestamp, sample.Metric)
	return err
}

func (s *PostgresStore) LatestPriceSample(ctx context.Context, playerID string) (*model.PriceSample, error) {
	var sample model.PriceSample
	err := s.pool.QueryRow(ctx,
		`SELECT player_id, ts, metric FROM price_samples
		 WHERE player_id = $1 ORDER BY ts DESC LIMIT 1`, playerID).
		Scan(&sample.PlayerID, &sample.Timestamp, &sample.Metric)
	if err != nil {
		return nil, fmt.Errorf("latest price sample %s: %w", playerID, notFound(err))
	}
	return &sample, nil
}

func (s *PostgresStore) LatestPriceSamples(ctx context.Context) (map[string]model.PriceSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (player_id) player_id, ts, metric
		 FROM price_samples ORDER BY player_id, ts DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.PriceSample)
	for rows.Next() {
		var sample model.PriceSample
		if err := rows.Scan(&sample.PlayerID, &sample.Timestamp, &sample.Metric); err != nil {
			return nil, err
		}
		out[sample.PlayerID] = sample
	}
	return out, rows.Err()
}

func (s *PostgresStore) PriceHistory(ctx context.Context, playerID string, since time.Time) ([]model.PriceSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT player_id, ts, metric FROM price_samples
		 WHERE player_id = $1 AND ts >= $2 ORDER BY ts`, playerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []model.PriceSample
	for rows.Next() {
		var sample model.PriceSample
		if err := rows.Scan(&sample.PlayerID, &sample.Timestamp, &sample.Metric); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// --- Users and portfolios ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, current_league_id) VALUES ($1, $2, $3)`,
		u.ID, u.Username, u.CurrentLeagueID)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Username, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, current_league_id FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.CurrentLeagueID)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, notFound(err))
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, current_league_id FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.CurrentLeagueID)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, notFound(err))
	}
	return &u, nil
}

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolios (id, user_id, league_id, balance, current_value, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		p.ID, p.UserID, p.LeagueID, p.Balance.String(), p.CurrentValue.String(), p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("portfolio for %s in %s: %w", p.UserID, p.LeagueID, ErrDuplicate)
	}
	return err
}

// OpenPortfolio inserts the portfolio and its opening point in one
// transaction.
func (s *PostgresStore) OpenPortfolio(ctx context.Context, p *model.Portfolio, opening model.ValuationPoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO portfolios (id, user_id, league_id, balance, current_value, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		p.ID, p.UserID, p.LeagueID, p.Balance.String(), p.CurrentValue.String(), p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("portfolio for %s in %s: %w", p.UserID, p.LeagueID, ErrDuplicate)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO valuation_points (portfolio_id, ts, value, pricing_version)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		opening.PortfolioID, opening.Timestamp, opening.Value.String(), opening.PricingVersion); err != nil {
		return fmt.Errorf("opening point for %s: %w", p.ID, err)
	}
	return tx.Commit(ctx)
}

const portfolioColumns = `id, user_id, league_id, balance::TEXT, current_value::TEXT, created_at`

func scanPortfolio(row pgx.Row) (*model.Portfolio, error) {
	var p model.Portfolio
	var balance, value string
	if err := row.Scan(&p.ID, &p.UserID, &p.LeagueID, &balance, &value, &p.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Balance, err = parseNumeric("balance", balance); err != nil {
		return nil, err
	}
	if p.CurrentValue, err = parseNumeric("current_value", value); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	p, err := scanPortfolio(s.pool.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s: %w", id, notFound(err))
	}
	return p, nil
}

func (s *PostgresStore) GetPortfolioByMember(ctx context.Context, userID, leagueID string) (*model.Portfolio, error) {
	p, err := scanPortfolio(s.pool.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE user_id = $1 AND league_id = $2`,
		userID, leagueID))
	if err != nil {
		return nil, fmt.Errorf("get portfolio for %s in %s: %w", userID, leagueID, notFound(err))
	}
	return p, nil
}

func (s *PostgresStore) ListPortfolios(ctx context.Context, leagueID string) ([]model.Portfolio, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios
		 WHERE $1 = '' OR league_id = $1 ORDER BY id`, leagueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var portfolios []model.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		portfolios = append(portfolios, *p)
	}
	return portfolios, rows.Err()
}

func (s *PostgresStore) SetPortfolioValue(ctx context.Context, portfolioID string, value decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE portfolios SET current_value = $2::NUMERIC WHERE id = $1`,
		portfolioID, value.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
	}
	return nil
}

// --- Positions and history ---

const holdingColumns = `portfolio_id, player_id, shares, average_cost::TEXT`

func scanHolding(row pgx.Row) (*model.Holding, error) {
	var h model.Holding
	var avg string
	if err := row.Scan(&h.PortfolioID, &h.PlayerID, &h.Shares, &avg); err != nil {
		return nil, err
	}
	var err error
	if h.AverageCost, err = parseNumeric("average_cost", avg); err != nil {
		return nil, err
	}
	return &h, nil
}

// queryer is satisfied by both the pool and an open transaction.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listHoldings(ctx context.Context, q queryer, portfolioID string) ([]model.Holding, error) {
	rows, err := q.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE portfolio_id = $1 ORDER BY player_id`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, *h)
	}
	return holdings, rows.Err()
}

// PortfolioPositions reads the portfolio row and its holdings in one
// read-only REPEATABLE READ transaction so both come from the same snapshot.
func (s *PostgresStore) PortfolioPositions(ctx context.Context, portfolioID string) (*model.Portfolio, []model.Holding, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPortfolio(tx.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, portfolioID))
	if err != nil {
		return nil, nil, fmt.Errorf("get portfolio %s: %w", portfolioID, notFound(err))
	}
	holdings, err := listHoldings(ctx, tx, portfolioID)
	if err != nil {
		return nil, nil, fmt.Errorf("holdings of %s: %w", portfolioID, err)
	}
	return p, holdings, tx.Commit(ctx)
}

func (s *PostgresStore) ListHoldings(ctx context.Context, portfolioID string) ([]model.Holding, error) {
	return listHoldings(ctx, s.pool, portfolioID)
}

func (s *PostgresStore) ListHoldLocks(ctx context.Context, portfolioID string, at time.Time) ([]model.HoldLock, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, portfolio_id, player_id, shares, created_at, expires_at
		 FROM hold_locks WHERE portfolio_id = $1 AND expires_at > $2
		 ORDER BY expires_at`, portfolioID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locks []model.HoldLock
	for rows.Next() {
		var l model.HoldLock
		if err := rows.Scan(&l.ID, &l.PortfolioID, &l.PlayerID, &l.Shares, &l.CreatedAt, &l.ExpiresAt); err != nil {
			return nil, err
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

func (s *PostgresStore) ListTransactions(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, portfolio_id, player_id, shares, price::TEXT, total::TEXT, pricing_version, ts
		 FROM transactions WHERE portfolio_id = $1 ORDER BY ts DESC, id DESC`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var price, total string
		if err := rows.Scan(&t.ID, &t.Type, &t.PortfolioID, &t.PlayerID, &t.Shares,
			&price, &total, &t.PricingVersion, &t.Timestamp); err != nil {
			return nil, err
		}
		if t.Price, err = parseNumeric("price", price); err != nil {
			return nil, err
		}
		if t.Total, err = parseNumeric("total", total); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) AppendValuationPoint(ctx context.Context, v model.ValuationPoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO valuation_points (portfolio_id, ts, value, pricing_version)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		v.PortfolioID, v.Timestamp, v.Value.String(), v.PricingVersion)
	return err
}

func (s *PostgresStore) ValuationHistory(ctx context.Context, portfolioID string) ([]model.ValuationPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT portfolio_id, ts, value::TEXT, pricing_version
		 FROM valuation_points WHERE portfolio_id = $1 ORDER BY ts`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.ValuationPoint
	for rows.Next() {
		var v model.ValuationPoint
		var value string
		if err := rows.Scan(&v.PortfolioID, &v.Timestamp, &value, &v.PricingVersion); err != nil {
			return nil, err
		}
		if v.Value, err = parseNumeric("value", value); err != nil {
			return nil, err
		}
		points = append(points, v)
	}
	return points, rows.Err()
}

// --- Commit unit ---

// WithPortfolioTx runs fn in a SERIALIZABLE transaction holding a row lock
// on the portfolio. Serialization failures are retried with backoff; after
// the last attempt ErrTxConflict is returned.
func (s *PostgresStore) WithPortfolioTx(ctx context.Context, portfolioID string, fn func(tx PortfolioTx) error) error {
	retryDelay := baseRetryDelay
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.runPortfolioTx(ctx, portfolioID, fn)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxTxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < maxRetryDelay {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func (s *PostgresStore) runPortfolioTx(ctx context.Context, portfolioID string, fn func(tx PortfolioTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPortfolio(tx.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1 FOR UPDATE`, portfolioID))
	if err != nil {
		return fmt.Errorf("lock portfolio %s: %w", portfolioID, notFound(err))
	}

	if err := fn(&pgTx{tx: tx, portfolio: *p}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx        pgx.Tx
	portfolio model.Portfolio
}

func (t *pgTx) Portfolio() model.Portfolio { return t.portfolio }

func (t *pgTx) Holding(ctx context.Context, playerID string) (*model.Holding, error) {
	h, err := scanHolding(t.tx.QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE portfolio_id = $1 AND player_id = $2`,
		t.portfolio.ID, playerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (t *pgTx) LockedShares(ctx context.Context, playerID string, at time.Time) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(shares), 0) FROM hold_locks
		 WHERE portfolio_id = $1 AND player_id = $2 AND expires_at > $3`,
		t.portfolio.ID, playerID, at).Scan(&n)
	return n, err
}

func (t *pgTx) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE portfolios SET balance = $2::NUMERIC WHERE id = $1`,
		t.portfolio.ID, balance.String())
	if err == nil {
		t.portfolio.Balance = balance
	}
	return err
}

func (t *pgTx) PutHolding(ctx context.Context, h model.Holding) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO holdings (portfolio_id, player_id, shares, average_cost)
		 VALUES ($1, $2, $3, $4::NUMERIC)
		 ON CONFLICT (portfolio_id, player_id) DO UPDATE
		 SET shares = EXCLUDED.shares, average_cost = EXCLUDED.average_cost`,
		t.portfolio.ID, h.PlayerID, h.Shares, h.AverageCost.String())
	return err
}

func (t *pgTx) DeleteHolding(ctx context.Context, playerID string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM holdings WHERE portfolio_id = $1 AND player_id = $2`,
		t.portfolio.ID, playerID)
	return err
}

func (t *pgTx) InsertHoldLock(ctx context.Context, l model.HoldLock) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO hold_locks (id, portfolio_id, player_id, shares, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, t.portfolio.ID, l.PlayerID, l.Shares, l.CreatedAt, l.ExpiresAt)
	return err
}

func (t *pgTx) AppendTransaction(ctx context.Context, tr model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, type, portfolio_id, player_id, shares, price, total, pricing_version, ts)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		tr.ID, string(tr.Type), t.portfolio.ID, tr.PlayerID, tr.Shares,
		tr.Price.String(), tr.Total.String(), tr.PricingVersion, tr.Timestamp)
	return err
}

// --- Error helpers ---

// parseNumeric converts a NUMERIC column read as text.
func parseNumeric(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", column, s, err)
	}
	return d, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
