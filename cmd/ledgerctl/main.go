package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tftstocks/market-engine/internal/config"
	"github.com/tftstocks/market-engine/internal/leaderboard"
	"github.com/tftstocks/market-engine/internal/model"
	"github.com/tftstocks/market-engine/internal/player"
	"github.com/tftstocks/market-engine/internal/pricing"
	"github.com/tftstocks/market-engine/internal/store"
	"github.com/tftstocks/market-engine/internal/trade"
	"github.com/tftstocks/market-engine/internal/valuation"
)

const cmdTimeout = 60 * time.Second

// app is the wiring shared by every subcommand.
type app struct {
	cfg       *config.Config
	store     store.Store
	pricing   pricing.Transform
	engine    *trade.Engine
	valuation *valuation.Service
	board     *leaderboard.Board
	close     func()
}

func main() {
	var a app

	root := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Operate the player-share ledger",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.close != nil {
				a.close()
			}
		},
	}

	root.AddCommand(
		newMigrateCmd(&a),
		newPlayerCmd(&a),
		newPriceCmd(&a),
		newUserCmd(&a),
		newPortfolioCmd(&a),
		newTradeCmd(&a),
		newSnapshotCmd(&a),
		newLeaderboardCmd(&a),
	)

	if err := root.Execute(); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	logger := cfg.Logger()

	st, closeStore, err := store.Open(ctx, cfg.DatabaseURL, cfg.RedisURL, cfg.CacheTTL, logger)
	if err != nil {
		return err
	}
	t, err := pricing.Lookup(cfg.PricingVersion)
	if err != nil {
		closeStore()
		return err
	}

	tradeCfg := trade.DefaultConfig()
	tradeCfg.StartingBalance = cfg.StartingBalance

	a.cfg = cfg
	a.store = st
	a.pricing = t
	a.engine = trade.NewEngine(st, t, tradeCfg, logger)
	a.valuation = valuation.NewService(st, t, logger)
	a.board = leaderboard.NewBoard(st, t)
	a.close = closeStore
	return nil
}

func (a *app) playerByRef(ctx context.Context, raw string) (*model.Player, error) {
	ref, err := player.ParseRef(raw)
	if err != nil {
		return nil, err
	}
	return a.store.GetPlayerByName(ctx, ref.GameName, ref.TagLine)
}

func (a *app) portfolioOf(ctx context.Context, username, leagueID string) (*model.Portfolio, error) {
	u, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if leagueID == "" {
		leagueID = u.CurrentLeagueID
	}
	return a.store.GetPortfolioByMember(ctx, u.ID, leagueID)
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The schema is applied when the store opens.
			printSuccess("Schema is up to date.")
			return nil
		},
	}
}

func newPlayerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Manage tradable players",
	}

	add := &cobra.Command{
		Use:   "add <Name#Tag>",
		Short: "List a player for trading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := player.ParseRef(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			p := &model.Player{ID: uuid.New().String(), GameName: ref.GameName, TagLine: ref.TagLine}
			if err := a.store.UpsertPlayer(ctx, p); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Listed %s (%s).", ref, p.ID))
			return nil
		},
	}

	delist := &cobra.Command{
		Use:   "delist <Name#Tag>",
		Short: "Permanently remove a player from trading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			p, err := a.playerByRef(ctx, args[0])
			if err != nil {
				return err
			}
			if p.Delisted() {
				printWarn(fmt.Sprintf("%s#%s is already delisted.", p.GameName, p.TagLine))
				return nil
			}
			now := time.Now().UTC()
			p.DelistedAt = &now
			if err := a.store.UpsertPlayer(ctx, p); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Delisted %s#%s.", p.GameName, p.TagLine))
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <Name#Tag>",
		Short: "Show a player's recent prices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			p, err := a.playerByRef(ctx, args[0])
			if err != nil {
				return err
			}
			samples, err := a.store.PriceHistory(ctx, p.ID, time.Now().Add(-72*time.Hour))
			if err != nil {
				return err
			}
			renderPlayer(p, samples, a.pricing)
			return nil
		},
	}

	cmd.AddCommand(add, delist, show)
	return cmd
}

func newPriceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Record ranking metric samples",
	}

	var at string
	add := &cobra.Command{
		Use:   "add <Name#Tag> <league-points>",
		Short: "Append a price sample",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			metric, err := strconv.ParseFloat(args[1], 64)
			if err != nil || math.IsNaN(metric) || math.IsInf(metric, 0) {
				return fmt.Errorf("invalid league points %q", args[1])
			}
			ts := time.Now().UTC()
			if at != "" {
				if ts, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			p, err := a.playerByRef(ctx, args[0])
			if err != nil {
				return err
			}
			sample := model.PriceSample{PlayerID: p.ID, Timestamp: ts, Metric: metric}
			if err := a.store.AppendPriceSample(ctx, sample); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s#%s priced at %s.", p.GameName, p.TagLine, a.pricing.PriceSample(sample)))
			return nil
		},
	}
	add.Flags().StringVar(&at, "at", "", "sample time (RFC3339), defaults to now")

	cmd.AddCommand(add)
	return cmd
}

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var league string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Register a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			u := &model.User{ID: uuid.New().String(), Username: args[0], CurrentLeagueID: league}
			if err := a.store.CreateUser(ctx, u); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Created user %s (%s).", u.Username, u.ID))
			return nil
		},
	}
	add.Flags().StringVar(&league, "league", "", "current league ID")
	_ = add.MarkFlagRequired("league")

	cmd.AddCommand(add)
	return cmd
}

func newPortfolioCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Open and inspect portfolios",
	}

	var openLeague string
	open := &cobra.Command{
		Use:   "open <username>",
		Short: "Open a portfolio with the starting balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			u, err := a.store.GetUserByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			league := openLeague
			if league == "" {
				league = u.CurrentLeagueID
			}
			p, err := a.engine.OpenPortfolio(ctx, u.ID, league)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Opened portfolio %s in %s with %s.", p.ID, league, p.Balance.StringFixed(model.MoneyScale)))
			return nil
		},
	}
	open.Flags().StringVar(&openLeague, "league", "", "league ID, defaults to the user's current league")

	var showLeague string
	show := &cobra.Command{
		Use:   "show <username>",
		Short: "Show a portfolio snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			p, err := a.portfolioOf(ctx, args[0], showLeague)
			if err != nil {
				return err
			}
			snap, err := a.valuation.Snapshot(ctx, p.ID)
			if err != nil {
				return err
			}
			renderSnapshot(snap)
			return nil
		},
	}
	show.Flags().StringVar(&showLeague, "league", "", "league ID, defaults to the user's current league")

	cmd.AddCommand(open, show)
	return cmd
}

func newTradeCmd(a *app) *cobra.Command {
	var league string
	cmd := &cobra.Command{
		Use:   "trade <username> <Name#Tag> <buy|sell> <shares>",
		Short: "Execute a trade on behalf of a user",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			shares, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("shares must be a whole number: %q", args[3])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			p, err := a.portfolioOf(ctx, args[0], league)
			if err != nil {
				return err
			}
			pl, err := a.playerByRef(ctx, args[1])
			if err != nil {
				return err
			}
			res, err := a.engine.Execute(ctx, trade.Order{
				PortfolioID: p.ID,
				PlayerID:    pl.ID,
				Type:        model.TradeType(args[2]),
				Shares:      shares,
			})
			if err != nil {
				return err
			}
			renderTrade(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&league, "league", "", "league ID, defaults to the user's current league")
	return cmd
}

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Record portfolio valuations",
	}
	run := &cobra.Command{
		Use:   "run",
		Short: "Record a valuation point for every portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()
			n, err := a.valuation.RecordAll(ctx)
			if err != nil {
				printWarn(fmt.Sprintf("Recorded %d portfolios with failures.", n))
				return err
			}
			printSuccess(fmt.Sprintf("Recorded %d portfolios.", n))
			return nil
		},
	}
	cmd.AddCommand(run)
	return cmd
}

func newLeaderboardCmd(a *app) *cobra.Command {
	var (
		page   int
		limit  int
		league string
	)
	cmd := &cobra.Command{
		Use:   "leaderboard <metric>",
		Short: "Show a leaderboard page (price, 8h, 24h, 72h, portfolio; prefix neg_ for ascending)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := leaderboard.ParseMetric(args[0])
			if err != nil {
				return err
			}
			p, err := leaderboard.NewPage(page, limit)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()

			if m.Axis == leaderboard.AxisPortfolioValue {
				rows, err := a.board.Portfolios(ctx, league, p)
				if err != nil {
					return err
				}
				renderPortfolioBoard(rows)
				return nil
			}
			rows, err := a.board.Players(ctx, m, p)
			if err != nil {
				return err
			}
			renderPlayerBoard(m, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "0-based page number")
	cmd.Flags().IntVar(&limit, "limit", leaderboard.DefaultLimit, "rows per page")
	cmd.Flags().StringVar(&league, "league", "", "league ID for the portfolio board")
	return cmd
}
