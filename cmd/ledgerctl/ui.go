package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/leaderboard"
	"github.com/tftstocks/market-engine/internal/model"
	"github.com/tftstocks/market-engine/internal/pricing"
	"github.com/tftstocks/market-engine/internal/trade"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func money(v decimal.Decimal) string {
	return v.StringFixed(model.MoneyScale)
}

// signed colors a change green when positive and red when negative.
func signed(v decimal.Decimal) string {
	s := money(v)
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + s)
	case -1:
		return danger.Sprint(s)
	default:
		return s
	}
}

func renderPlayer(p *model.Player, samples []model.PriceSample, t pricing.Transform) {
	accent.Printf("\n== %s#%s ==\n", p.GameName, p.TagLine)
	if p.Delisted() {
		printWarn(fmt.Sprintf("Delisted at %s", p.DelistedAt.Format(time.RFC3339)))
	}
	fmt.Printf("8h: %s  24h: %s  72h: %s\n", signed(p.Delta8h), signed(p.Delta24h), signed(p.Delta72h))
	if len(samples) == 0 {
		printInfo("No samples in the last 72h.")
		return
	}
	fmt.Printf("%-25s %10s %14s\n", "TIME", "LP", "PRICE")
	for _, s := range samples {
		fmt.Printf("%-25s %10.0f %14s\n", s.Timestamp.Format(time.RFC3339), s.Metric, money(t.PriceSample(s)))
	}
}

func renderTrade(res *trade.Result) {
	tx := res.Transaction
	accent.Printf("\n== %s %s#%s ==\n", tx.Type, res.Player.GameName, res.Player.TagLine)
	fmt.Printf("Shares:  %d\n", tx.Shares)
	fmt.Printf("Price:   %s\n", money(tx.Price))
	fmt.Printf("Total:   %s\n", money(tx.Total))
	fmt.Printf("Balance: %s\n", money(res.Balance))
	if res.Holding != nil {
		fmt.Printf("Holding: %d @ %s\n", res.Holding.Shares, money(res.Holding.AverageCost))
	} else {
		printInfo("Position closed.")
	}
	if res.Lock != nil {
		printWarn(fmt.Sprintf("Locked until %s", res.Lock.ExpiresAt.Format(time.RFC3339)))
	}
}

func renderSnapshot(s *model.PortfolioSnapshot) {
	accent.Printf("\n== PORTFOLIO %s (%s) ==\n", s.Username, s.LeagueID)
	fmt.Printf("Balance: %s\n", money(s.Balance))
	fmt.Printf("Value:   %s\n", money(s.CurrentValue))
	if s.OneDayChange != nil {
		fmt.Printf("1d:      %s\n", signed(*s.OneDayChange))
	}
	if s.ThreeDayChange != nil {
		fmt.Printf("3d:      %s\n", signed(*s.ThreeDayChange))
	}
	if len(s.Holdings) == 0 {
		printInfo("No holdings.")
		return
	}
	fmt.Printf("\n%-22s %8s %8s %12s %12s %14s\n", "PLAYER", "SHARES", "FREE", "AVG COST", "PRICE", "P/L")
	for _, h := range s.Holdings {
		price := money(h.CurrentPrice)
		if !h.Priced {
			price = "n/a"
		}
		fmt.Printf("%-22s %8d %8d %12s %12s %14s\n",
			h.GameName+"#"+h.TagLine, h.Shares, h.FreeShares, money(h.AverageCost), price, signed(h.UnrealizedPnL))
	}
}

func renderPlayerBoard(m leaderboard.Metric, rows []model.PlayerRankEntry) {
	accent.Printf("\n== LEADERBOARD %s ==\n", m)
	if len(rows) == 0 {
		printInfo("No ranked players on this page.")
		return
	}
	fmt.Printf("%-6s %-22s %12s %10s %10s %10s\n", "RANK", "PLAYER", "PRICE", "8H", "24H", "72H")
	for _, r := range rows {
		fmt.Printf("%-6d %-22s %12s %10s %10s %10s\n",
			r.Rank, r.GameName+"#"+r.TagLine, money(r.Price), money(r.Delta8h), money(r.Delta24h), money(r.Delta72h))
	}
}

func renderPortfolioBoard(rows []model.PortfolioRankEntry) {
	accent.Println("\n== LEADERBOARD portfolio ==")
	if len(rows) == 0 {
		printInfo("No portfolios on this page.")
		return
	}
	fmt.Printf("%-6s %-20s %-14s %14s\n", "RANK", "USER", "LEAGUE", "VALUE")
	for _, r := range rows {
		fmt.Printf("%-6d %-20s %-14s %14s\n", r.Rank, r.Username, r.LeagueID, money(r.Value))
	}
}
