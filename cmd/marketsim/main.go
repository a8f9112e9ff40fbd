package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/efreitasn/marketsim/internal/config"
	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/engine"
)

func main() {
	// .env is optional; the environment wins over the file.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	runID := uuid.New().String()
	log.Info("starting simulator", zap.String("run_id", runID))

	eng := engine.New(cfg.EngineSettings(), log)
	if err := runDemo(eng, log); err != nil {
		log.Fatal("demo session failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(lvl)
	c.EncoderConfig.TimeKey = "ts"
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return c.Build()
}

// runDemo replays a short scripted session: seed a book from market data,
// work an order against it and print everything the engine emits.
func runDemo(eng *engine.Engine, log *zap.Logger) error {
	secID := domain.SecurityID{Board: "DEMO", Symbol: "ACME"}
	t := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	step := func(d time.Duration) time.Time { t = t.Add(d); return t }

	msgs := []domain.Message{
		&domain.Reset{Time: t},
		&domain.Connect{Time: step(time.Millisecond)},
		&domain.SecurityDef{
			Security: domain.Security{
				ID:         secID,
				PriceStep:  decimal.New(1, -2),
				VolumeStep: decimal.New(1, 0),
			},
			Time: step(time.Millisecond),
		},
		&domain.MarketData{
			TransactionID: 1,
			SecurityID:    secID,
			DataType:      domain.MarketDataDepth,
			Subscribe:     true,
			Time:          step(time.Millisecond),
		},
		&domain.QuoteChange{
			SecurityID: secID,
			Bids: []domain.QuoteLevel{
				{Price: decimal.New(995, -2), Volume: decimal.New(50, 0)},
				{Price: decimal.New(990, -2), Volume: decimal.New(80, 0)},
			},
			Asks: []domain.QuoteLevel{
				{Price: decimal.New(1005, -2), Volume: decimal.New(40, 0)},
				{Price: decimal.New(1010, -2), Volume: decimal.New(90, 0)},
			},
			Time: step(time.Millisecond),
		},
		&domain.OrderRegister{
			TransactionID: 2,
			SecurityID:    secID,
			Portfolio:     engine.DefaultPortfolio,
			Side:          domain.SideBuy,
			Type:          domain.OrderTypeLimit,
			Price:         decimal.New(1005, -2),
			Volume:        decimal.New(60, 0),
			TIF:           domain.TIFPutInQueue,
			Time:          step(10 * time.Millisecond),
		},
		&domain.Tick{
			SecurityID: secID,
			Price:      decimal.New(1010, -2),
			Volume:     decimal.New(30, 0),
			Time:       step(50 * time.Millisecond),
		},
		&domain.PortfolioLookup{
			TransactionID: 3,
			Time:          step(time.Millisecond),
		},
		&domain.Disconnect{Time: step(time.Millisecond)},
	}

	for _, msg := range msgs {
		out, err := eng.Process(msg)
		if err != nil {
			return err
		}
		for _, m := range out {
			switch r := m.(type) {
			case *domain.ExecutionReport:
				if r.TradeID != 0 {
					log.Info("trade",
						zap.Int64("order", r.OrderID),
						zap.String("price", r.TradePrice.String()),
						zap.String("volume", r.TradeVolume.String()))
				} else {
					log.Info("order",
						zap.Int64("order", r.OrderID),
						zap.Stringer("state", r.State),
						zap.String("balance", r.Balance.String()),
						zap.Error(errOrNil(r)))
				}
			case *domain.QuoteChange:
				log.Info("depth",
					zap.Int("bids", len(r.Bids)),
					zap.Int("asks", len(r.Asks)))
			case *domain.PositionChange:
				if r.CurrentValue != nil {
					log.Info("position",
						zap.String("portfolio", r.Portfolio),
						zap.Stringer("security", r.SecurityID),
						zap.String("current", r.CurrentValue.String()))
				}
			}
		}
	}
	return nil
}

func errOrNil(r *domain.ExecutionReport) error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}
