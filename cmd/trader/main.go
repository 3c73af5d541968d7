package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/config"
	"github.com/coinrun/baseline-trader/internal/db"
	"github.com/coinrun/baseline-trader/internal/engine"
	"github.com/coinrun/baseline-trader/internal/exchange"
	"github.com/coinrun/baseline-trader/internal/feed"
	"github.com/coinrun/baseline-trader/internal/notifier"
	"github.com/coinrun/baseline-trader/internal/strategy"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Println("Starting Baseline Trader in mode:", cfg.Mode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	storage, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer storage.Close()

	strat, err := strategy.New(cfg.Strategy, strategy.Params{
		MomentumLookback:  cfg.MomentumLookback,
		MomentumThreshold: cfg.MomentumThreshold,
		SMAFastPeriod:     cfg.SMAFastPeriod,
		SMASlowPeriod:     cfg.SMASlowPeriod,
		RSIPeriod:         cfg.RSIPeriod,
		RSIOverbought:     cfg.RSIOverbought,
		RSIOversold:       cfg.RSIOversold,
		StopLossPct:       cfg.BracketStopLossPct,
		TakeProfitPct:     cfg.BracketTakeProfitPct,
	})
	if err != nil {
		log.Fatalf("Failed to create strategy: %v", err)
	}

	switch cfg.Mode {
	case "backtest":
		runBacktest(ctx, cfg, storage, strat)
	case "paper", "live":
		runLive(ctx, cfg, storage, strat)
	default:
		log.Fatalf("Unsupported mode: %s", cfg.Mode)
	}
}

func openStorage(cfg config.Config) (db.Storage, error) {
	if cfg.DBConnStr == "" {
		log.Println("No DB_CONN_STR set, using in-memory storage")
		return db.NewMemory(), nil
	}
	storage, err := db.NewPostgres(cfg.DBConnStr)
	if err != nil {
		return nil, err
	}
	log.Println("Connected to Postgres")
	return storage, nil
}

func buildNotifier(cfg config.Config) notifier.Notifier {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == "" {
		return notifier.Noop{}
	}
	return notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		InstanceID:       cfg.InstanceID,
		Symbol:           cfg.Symbol,
		Granularity:      cfg.Granularity,
		FeeRate:          cfg.FeeRate,
		LossTolerance:    cfg.LossTolerance,
		StartingCurrency: cfg.StartingCurrency,
		StartingAsset:    cfg.StartingAsset,
		OrderTimeout:     cfg.OrderTimeout.Std(),
		MaxEntryRetries:  cfg.MaxEntryRetries,
	}
}

func runBacktest(ctx context.Context, cfg config.Config, storage db.Storage, strat strategy.Strategy) {
	candles, err := loadBacktestCandles(ctx, cfg, storage)
	if err != nil {
		log.Fatalf("Error loading candles for backtest: %v", err)
	}
	log.Printf("Loaded %d candles for backtest", len(candles))

	res, err := engine.RunBacktest(ctx, engineConfig(cfg), candles, strat, storage)
	if err != nil {
		log.Fatalf("Backtest failed: %v", err)
	}

	printResult(strat, res)
	saveBacktestResults(res)
}

// loadBacktestCandles tries CSV first, then the database, then downloads
// from the exchange in chunks and persists what it fetched.
func loadBacktestCandles(ctx context.Context, cfg config.Config, storage db.Storage) ([]candle.Candle, error) {
	if cfg.CandleCSV != "" {
		return loadCSVCandles(cfg.CandleCSV, cfg.Symbol, cfg.Granularity)
	}

	from, to := cfg.BacktestFrom, cfg.BacktestTo
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, -1, 0)
	}

	candles, err := storage.GetCandles(ctx, cfg.Symbol, cfg.Granularity, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading candles from storage: %w", err)
	}
	if len(candles) > 0 {
		return candles, nil
	}

	log.Printf("No historical candles in storage for %s, downloading from exchange...", cfg.Symbol)
	ex := exchange.NewWallexAdapter(cfg.WallexAPIKey, cfg.FeeRate)

	curr := from
	const chunk = 30 * 24 * time.Hour
	for curr.Before(to) {
		next := curr.Add(chunk)
		if next.After(to) {
			next = to
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		fetched, err := ex.FetchCandles(fetchCtx, cfg.Symbol, cfg.Granularity, curr, next)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("fetching candles %s to %s: %w",
				curr.Format(time.RFC3339), next.Format(time.RFC3339), err)
		}
		if len(fetched) > 0 {
			if err := storage.SaveCandles(ctx, fetched); err != nil {
				return nil, fmt.Errorf("saving candles: %w", err)
			}
			log.Printf("Downloaded and saved %d candles [%s-%s]",
				len(fetched), curr.Format(time.RFC3339), next.Format(time.RFC3339))
		}
		curr = next
	}

	return storage.GetCandles(ctx, cfg.Symbol, cfg.Granularity, from, to)
}

// loadCSVCandles reads candles from a CSV file with columns
// timestamp,open,high,low,close,volume (RFC3339 timestamps).
func loadCSVCandles(path, symbol, granularity string) ([]candle.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening candle csv: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading candle csv: %w", err)
	}

	var candles []candle.Candle
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "timestamp" {
			continue // header
		}
		if len(row) < 6 {
			return nil, fmt.Errorf("csv row %d: want 6 columns, got %d", i+1, len(row))
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", i+1, err)
		}
		vals := make([]float64, 5)
		for j := 0; j < 5; j++ {
			v, err := strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("csv row %d column %d: %w", i+1, j+2, err)
			}
			vals[j] = v
		}
		candles = append(candles, candle.Candle{
			Timestamp:   ts.UTC(),
			Open:        vals[0],
			High:        vals[1],
			Low:         vals[2],
			Close:       vals[3],
			Volume:      vals[4],
			Symbol:      symbol,
			Granularity: granularity,
			Source:      "csv",
		})
	}
	return candles, nil
}

func printResult(strat strategy.Strategy, res *engine.Result) {
	log.Printf("Backtest Results (%s):", strat.Name())
	log.Printf("  Period: %s - %s",
		res.StartTime.Format(time.RFC3339), res.EndTime.Format(time.RFC3339))
	log.Printf("  Trades=%d, Wins=%d, Losses=%d",
		len(res.Trades), res.WinningTrades, res.LosingTrades)
	log.Printf("  FinalEquity=%.2f (currency %.8f, asset %.8f)",
		res.FinalEquity, res.FinalCurrency, res.FinalAsset)
	log.Printf("  MaxDrawdown=%.2f%%, APY=%.2f%%, TotalFees=%.8f",
		res.MaxDrawdown*100, res.APY*100, res.TotalFees)
	log.Printf("  LongestIdle=%d candles", res.LongestIdle)
	log.Printf("  Floors: asset=%.8f currency=%.8f",
		res.Floors.AssetFloor, res.Floors.CurrencyFloor)

	maxTrades := 10
	for i, tr := range res.Trades {
		if i >= maxTrades {
			log.Printf("  ... and %d more trades", len(res.Trades)-maxTrades)
			break
		}
		log.Printf("  Trade %d: Entry=%.2f at %s, Exit=%.2f at %s, PnL=%.2f (%s)",
			i+1, tr.EntryPrice, tr.EntryTime.Format(time.RFC3339),
			tr.ExitPrice, tr.ExitTime.Format(time.RFC3339), tr.PnL, tr.ExitReason)
	}
}

// saveBacktestResults writes the trade log and equity curve to CSV files.
func saveBacktestResults(res *engine.Result) {
	tradeRows := [][]string{{"Trade#", "Entry", "EntryTime", "Exit", "ExitTime", "PnL", "Fees", "Reason"}}
	for i, tr := range res.Trades {
		tradeRows = append(tradeRows, []string{
			strconv.Itoa(i + 1),
			fmt.Sprintf("%.8f", tr.EntryPrice),
			tr.EntryTime.Format(time.RFC3339),
			fmt.Sprintf("%.8f", tr.ExitPrice),
			tr.ExitTime.Format(time.RFC3339),
			fmt.Sprintf("%.8f", tr.PnL),
			fmt.Sprintf("%.8f", tr.Fees),
			tr.ExitReason,
		})
	}

	equityRows := [][]string{{"Step", "Equity"}}
	for i, eq := range res.EquityCurve {
		equityRows = append(equityRows, []string{
			strconv.Itoa(i + 1),
			fmt.Sprintf("%.8f", eq),
		})
	}

	saveCSV("backtest_trades.csv", tradeRows)
	saveCSV("backtest_equity.csv", equityRows)
}

func saveCSV(filename string, rows [][]string) {
	f, err := os.Create(filename)
	if err != nil {
		log.Printf("Error creating CSV file %s: %v", filename, err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	for _, row := range rows {
		if err := w.Write(row); err != nil {
			log.Printf("Error writing CSV file %s: %v", filename, err)
			return
		}
	}
	log.Printf("Saved results to %s", filename)
}

func runLive(ctx context.Context, cfg config.Config, storage db.Storage, strat strategy.Strategy) {
	// market data always comes from the venue; paper mode routes orders
	// to the simulator instead
	marketData := exchange.NewWallexAdapter(cfg.WallexAPIKey, cfg.FeeRate)

	var adapter exchange.Adapter
	var feedSource feed.Source
	if cfg.Mode == "paper" {
		adapter = exchange.NewSimAdapter(cfg.FeeRate, startingBalances(cfg))
		feedSource = marketData
		log.Println("Paper trading: orders go to the simulator")
	} else {
		adapter = marketData
		feedSource = marketData
	}

	f, err := feed.NewExchangeFeed(feedSource, cfg.Symbol, cfg.Granularity)
	if err != nil {
		log.Fatalf("Failed to create candle feed: %v", err)
	}

	liveCfg := engine.LiveConfig{
		Config:           engineConfig(cfg),
		EvalInterval:     cfg.EvalInterval.Std(),
		PollInterval:     cfg.PollInterval.Std(),
		BalanceTolerance: cfg.BalanceTolerance,
	}
	eng := engine.NewLive(liveCfg, adapter, f, strat, storage, buildNotifier(cfg))

	log.Printf("Trading %s on %s candles with %s strategy", cfg.Symbol, cfg.Granularity, strat.Name())
	err = eng.Run(ctx)
	if err != nil && ctx.Err() == nil {
		log.Printf("Engine stopped with error: %v", err)
	}

	// shutdown leaves positions alone unless the operator asked otherwise
	if cfg.FlattenOnExit {
		flattenCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := eng.Flatten(flattenCtx); err != nil {
			log.Printf("Flatten on exit: %v", err)
		} else {
			log.Println("Position flattened on exit")
		}
	}
	log.Println("Shutdown complete")
}

func startingBalances(cfg config.Config) map[string]float64 {
	base, quote := exchange.SplitSymbol(cfg.Symbol)
	return map[string]float64{
		base:  cfg.StartingAsset,
		quote: cfg.StartingCurrency,
	}
}
