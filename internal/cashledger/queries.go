package cashledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	uncategorized = "uncategorized"
)

// Balance is income minus expense over the whole ledger. A nil method sums
// every payment method.
func (l *Ledger) Balance(ctx context.Context, storeID string, method *domain.PaymentMethod) (*domain.CashBalance, error) {
	sums, err := l.repo.SumCash(ctx, storeID, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	balance := &domain.CashBalance{StoreID: storeID}
	if method != nil {
		balance.PaymentMethod = *method
	}
	for _, sum := range sums {
		if method != nil && sum.PaymentMethod != *method {
			continue
		}
		switch sum.Type {
		case domain.CashIncome:
			balance.IncomeCents += sum.TotalCents
		case domain.CashExpense:
			balance.ExpenseCents += sum.TotalCents
		}
	}
	balance.BalanceCents = balance.IncomeCents - balance.ExpenseCents
	return balance, nil
}

// FlowSummary splits income and expense over [from, to) by payment method.
// Every method is listed even when it saw no entries.
func (l *Ledger) FlowSummary(ctx context.Context, storeID string, from time.Time, to time.Time) (*domain.CashFlowSummary, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	sums, err := l.repo.SumCash(ctx, storeID, from, to)
	if err != nil {
		return nil, err
	}

	flows := make(map[domain.PaymentMethod]*domain.MethodFlow, len(domain.PaymentMethods))
	summary := &domain.CashFlowSummary{StoreID: storeID, From: from, To: to}
	for _, method := range domain.PaymentMethods {
		flows[method] = &domain.MethodFlow{PaymentMethod: method}
	}
	for _, sum := range sums {
		flow, ok := flows[sum.PaymentMethod]
		if !ok {
			continue
		}
		flow.Entries += sum.Entries
		switch sum.Type {
		case domain.CashIncome:
			flow.IncomeCents += sum.TotalCents
			summary.IncomeCents += sum.TotalCents
		case domain.CashExpense:
			flow.ExpenseCents += sum.TotalCents
			summary.ExpenseCents += sum.TotalCents
		}
	}
	for _, method := range domain.PaymentMethods {
		flow := flows[method]
		flow.NetCents = flow.IncomeCents - flow.ExpenseCents
		summary.ByMethod = append(summary.ByMethod, *flow)
	}
	summary.NetCents = summary.IncomeCents - summary.ExpenseCents
	return summary, nil
}

// ExpenseBreakdown groups expenses over [from, to) by category, largest
// first, with each category's share of the total to two decimals.
func (l *Ledger) ExpenseBreakdown(ctx context.Context, storeID string, from time.Time, to time.Time) (*domain.ExpenseBreakdown, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	sums, err := l.repo.SumCash(ctx, storeID, from, to)
	if err != nil {
		return nil, err
	}
	categories, err := l.repo.ListExpenseCategories(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	byCategory := make(map[string]*domain.CategoryExpense)
	breakdown := &domain.ExpenseBreakdown{StoreID: storeID, From: from, To: to}
	for _, sum := range sums {
		if sum.Type != domain.CashExpense {
			continue
		}
		id := sum.CategoryID
		if id == "" {
			id = uncategorized
		}
		row, ok := byCategory[id]
		if !ok {
			name := names[id]
			if name == "" {
				name = "Uncategorized"
			}
			row = &domain.CategoryExpense{CategoryID: id, CategoryName: name}
			byCategory[id] = row
		}
		row.TotalCents += sum.TotalCents
		row.Entries += sum.Entries
		breakdown.TotalCents += sum.TotalCents
	}

	total := decimal.NewFromInt(breakdown.TotalCents)
	breakdown.Categories = make([]domain.CategoryExpense, 0, len(byCategory))
	for _, row := range byCategory {
		share := decimal.Zero
		if breakdown.TotalCents > 0 {
			share = decimal.NewFromInt(row.TotalCents).Mul(decimal.NewFromInt(100)).Div(total)
		}
		row.SharePercent = share.StringFixed(2)
		breakdown.Categories = append(breakdown.Categories, *row)
	}
	slices.SortFunc(breakdown.Categories, func(a, b domain.CategoryExpense) int {
		if c := cmp.Compare(b.TotalCents, a.TotalCents); c != 0 {
			return c
		}
		return cmp.Compare(a.CategoryID, b.CategoryID)
	})
	return breakdown, nil
}

func (l *Ledger) List(ctx context.Context, filter domain.CashFilter) ([]domain.CashTransaction, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, domain.Invalidf("unknown cash type %q", filter.Type)
	}
	if filter.PaymentMethod != "" && !filter.PaymentMethod.Valid() {
		return nil, domain.Invalidf("unsupported payment method %q", filter.PaymentMethod)
	}
	if err := checkRange(filter.From, filter.To); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return l.repo.ListCashTransactions(ctx, filter)
}

func (l *Ledger) Get(ctx context.Context, storeID string, id string) (*domain.CashTransaction, error) {
	entry, err := l.repo.GetCashTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.StoreID != storeID {
		return nil, fmt.Errorf("%w: cash transaction %s", domain.ErrNotFound, id)
	}
	return entry, nil
}

func (l *Ledger) Categories(ctx context.Context) ([]domain.ExpenseCategory, error) {
	return l.repo.ListExpenseCategories(ctx)
}

func checkRange(from time.Time, to time.Time) error {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return domain.Invalidf("from must be before to")
	}
	return nil
}
