// Package commission implements fee rules applied to order and trade
// events.
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
)

// Manager runs a chain of rules and accumulates the total charged.
type Manager struct {
	rules []domain.CommissionRule
	total decimal.Decimal
}

// NewManager creates a manager with the given initial rules.
func NewManager(rules ...domain.CommissionRule) *Manager {
	return &Manager{rules: rules}
}

// AddRule appends a rule to the chain.
func (m *Manager) AddRule(r domain.CommissionRule) {
	m.rules = append(m.rules, r)
}

// Process returns the fee for one execution event, summed over all rules.
func (m *Manager) Process(r *domain.ExecutionReport) decimal.Decimal {
	fee := decimal.Zero
	for _, rule := range m.rules {
		fee = fee.Add(rule.Fee(r))
	}
	m.total = m.total.Add(fee)
	return fee
}

// Total returns the fees charged since the last reset.
func (m *Manager) Total() decimal.Decimal { return m.total }

// Reset drops the accumulated total but keeps the rules.
func (m *Manager) Reset() { m.total = decimal.Zero }

// PerTrade charges a flat fee for every trade.
func PerTrade(fee decimal.Decimal) domain.CommissionRule {
	return domain.CommissionRuleFunc(func(r *domain.ExecutionReport) decimal.Decimal {
		if r.TradeID == 0 {
			return decimal.Zero
		}
		return fee
	})
}

// PerOrder charges a flat fee for every order registration.
func PerOrder(fee decimal.Decimal) domain.CommissionRule {
	return domain.CommissionRuleFunc(func(r *domain.ExecutionReport) decimal.Decimal {
		if r.TradeID != 0 || r.State != domain.OrderStateActive || r.IsCancellation {
			return decimal.Zero
		}
		return fee
	})
}

// TurnoverPercent charges a percentage of each trade's cash value.
func TurnoverPercent(percent decimal.Decimal) domain.CommissionRule {
	hundred := decimal.New(100, 0)
	return domain.CommissionRuleFunc(func(r *domain.ExecutionReport) decimal.Decimal {
		if r.TradeID == 0 {
			return decimal.Zero
		}
		return r.TradePrice.Mul(r.TradeVolume).Mul(percent).Div(hundred)
	})
}
