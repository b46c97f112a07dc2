package domain

import "strings"

type MovementType string

const (
	MovementIn         MovementType = "IN"
	MovementOut        MovementType = "OUT"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementReturn     MovementType = "RETURN"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjustment, MovementReturn:
		return true
	}
	return false
}

// SignedDelta applies the sign implied by the movement type. ADJUSTMENT keeps
// the caller's sign; the other types take the magnitude.
func (t MovementType) SignedDelta(qty int) int {
	switch t {
	case MovementIn, MovementReturn:
		return absInt(qty)
	case MovementOut:
		return -absInt(qty)
	default:
		return qty
	}
}

type ReferenceType string

const (
	RefSale         ReferenceType = "SALE"
	RefReturn       ReferenceType = "RETURN"
	RefPurchase     ReferenceType = "PURCHASE"
	RefOpname       ReferenceType = "OPNAME"
	RefSaleReversal ReferenceType = "SALE_REVERSAL"
	RefManual       ReferenceType = "MANUAL"
)

func (r ReferenceType) Valid() bool {
	switch r {
	case RefSale, RefReturn, RefPurchase, RefOpname, RefSaleReversal, RefManual:
		return true
	}
	return false
}

// System references are written by the engines and cannot be edited by hand.
func (r ReferenceType) System() bool {
	return r == RefSale || r == RefReturn || r == RefSaleReversal
}

type CashType string

const (
	CashIncome  CashType = "INCOME"
	CashExpense CashType = "EXPENSE"
)

func (t CashType) Valid() bool {
	return t == CashIncome || t == CashExpense
}

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "CASH"
	PaymentQRIS  PaymentMethod = "QRIS"
	PaymentDebit PaymentMethod = "DEBIT"
)

var PaymentMethods = []PaymentMethod{PaymentCash, PaymentQRIS, PaymentDebit}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentQRIS, PaymentDebit:
		return true
	}
	return false
}

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(raw)))
	if !method.Valid() {
		return "", Invalidf("unsupported payment method %q", raw)
	}
	return method, nil
}

type SaleStatus string

const (
	SaleDraft     SaleStatus = "DRAFT"
	SaleCompleted SaleStatus = "COMPLETED"
	SaleLocked    SaleStatus = "LOCKED"
	SaleDeleted   SaleStatus = "DELETED"
)

var saleTransitions = map[SaleStatus][]SaleStatus{
	SaleDraft:     {SaleCompleted, SaleDeleted},
	SaleCompleted: {SaleLocked, SaleDeleted},
}

func (s SaleStatus) Valid() bool {
	switch s {
	case SaleDraft, SaleCompleted, SaleLocked, SaleDeleted:
		return true
	}
	return false
}

func (s SaleStatus) CanTransition(to SaleStatus) bool {
	for _, next := range saleTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Returnable reports whether returns may be booked against a sale in this status.
func (s SaleStatus) Returnable() bool {
	return s == SaleCompleted || s == SaleLocked
}

type DrawerStatus string

const (
	DrawerOpen     DrawerStatus = "OPEN"
	DrawerClosed   DrawerStatus = "CLOSED"
	DrawerBalanced DrawerStatus = "BALANCED"
	DrawerOver     DrawerStatus = "OVER"
	DrawerShort    DrawerStatus = "SHORT"
)

var drawerTransitions = map[DrawerStatus][]DrawerStatus{
	DrawerOpen: {DrawerClosed, DrawerBalanced, DrawerOver, DrawerShort},
}

func (s DrawerStatus) CanTransition(to DrawerStatus) bool {
	for _, next := range drawerTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// DrawerStatusForDifference maps the counted-minus-expected variance to a
// closing status.
func DrawerStatusForDifference(diff int64) DrawerStatus {
	switch {
	case diff == 0:
		return DrawerBalanced
	case diff > 0:
		return DrawerOver
	default:
		return DrawerShort
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
