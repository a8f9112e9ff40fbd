package commission

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func tradeReport(price, volume int64) *domain.ExecutionReport {
	return &domain.ExecutionReport{
		TradeID:     1,
		TradePrice:  d(price),
		TradeVolume: d(volume),
		State:       domain.OrderStateDone,
	}
}

func activeReport() *domain.ExecutionReport {
	return &domain.ExecutionReport{State: domain.OrderStateActive}
}

func TestPerTrade(t *testing.T) {
	m := NewManager(PerTrade(d(2)))

	if fee := m.Process(activeReport()); !fee.IsZero() {
		t.Errorf("order confirmation fee = %s, want 0", fee)
	}
	if fee := m.Process(tradeReport(100, 5)); !fee.Equal(d(2)) {
		t.Errorf("trade fee = %s, want 2", fee)
	}
	if !m.Total().Equal(d(2)) {
		t.Errorf("total = %s, want 2", m.Total())
	}
}

func TestPerOrder(t *testing.T) {
	m := NewManager(PerOrder(d(3)))

	if fee := m.Process(activeReport()); !fee.Equal(d(3)) {
		t.Errorf("registration fee = %s, want 3", fee)
	}
	if fee := m.Process(tradeReport(100, 5)); !fee.IsZero() {
		t.Errorf("trade fee = %s, want 0", fee)
	}

	cancel := activeReport()
	cancel.State = domain.OrderStateDone
	cancel.IsCancellation = true
	if fee := m.Process(cancel); !fee.IsZero() {
		t.Errorf("cancellation fee = %s, want 0", fee)
	}
}

func TestTurnoverPercent(t *testing.T) {
	m := NewManager(TurnoverPercent(decimal.NewFromFloat(0.5)))

	// 100 * 20 * 0.5% = 10
	if fee := m.Process(tradeReport(100, 20)); !fee.Equal(d(10)) {
		t.Errorf("fee = %s, want 10", fee)
	}
}

func TestRulesStack(t *testing.T) {
	m := NewManager(PerTrade(d(1)))
	m.AddRule(TurnoverPercent(d(1)))

	// 1 flat + 100 * 10 * 1% = 11
	if fee := m.Process(tradeReport(100, 10)); !fee.Equal(d(11)) {
		t.Errorf("fee = %s, want 11", fee)
	}

	m.Reset()
	if !m.Total().IsZero() {
		t.Error("reset must clear the total")
	}
	if fee := m.Process(tradeReport(100, 10)); !fee.Equal(d(11)) {
		t.Error("reset must keep the rules")
	}
}
