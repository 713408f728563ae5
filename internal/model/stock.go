package model

import (
	"math"
	"time"
)

// StockRecord is the normalized stock line delivered to the storefront.
// Quantity is never negative.
type StockRecord struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
}

// RawStock is the stock block of an ERP product entry. The ERP's native
// field names and their English aliases are both accepted.
type RawStock struct {
	VirtualTotal  *float64 `json:"saldoVirtualTotal,omitempty"`
	PhysicalTotal *float64 `json:"saldoFisicoTotal,omitempty"`
	Virtual       *float64 `json:"virtualTotalBalance,omitempty"`
	Physical      *float64 `json:"physicalBalance,omitempty"`
}

// Balance returns the virtual balance, falling back to the physical one.
func (s *RawStock) Balance() float64 {
	if s == nil {
		return 0
	}
	for _, v := range []*float64{s.VirtualTotal, s.Virtual, s.PhysicalTotal, s.Physical} {
		if v != nil {
			return *v
		}
	}
	return 0
}

// RawProduct is a single entry of an ERP product listing page.
type RawProduct struct {
	Codigo  string    `json:"codigo,omitempty"`
	Code    string    `json:"code,omitempty"`
	Nome    string    `json:"nome,omitempty"`
	Name    string    `json:"name,omitempty"`
	Estoque *RawStock `json:"estoque,omitempty"`
	Stock   *RawStock `json:"stock,omitempty"`
}

// Normalize maps a raw ERP entry to a StockRecord, flooring the balance and
// clamping negatives to zero.
func (p RawProduct) Normalize() StockRecord {
	code := p.Codigo
	if code == "" {
		code = p.Code
	}
	name := p.Nome
	if name == "" {
		name = p.Name
	}
	stock := p.Estoque
	if stock == nil {
		stock = p.Stock
	}

	qty := math.Floor(stock.Balance())
	if qty < 0 || math.IsNaN(qty) {
		qty = 0
	}
	if qty > math.MaxInt32 {
		qty = math.MaxInt32
	}

	return StockRecord{
		Code:        code,
		Description: name,
		Quantity:    int(qty),
	}
}

// RawProductPage is one page of the ERP product listing.
type RawProductPage struct {
	Data []RawProduct `json:"data"`
}

// CacheEntry is the last successful fetch result.
type CacheEntry struct {
	Records    []StockRecord `json:"records"`
	CapturedAt time.Time     `json:"captured_at"`
}

// FetchResult is the outcome of a full catalog pagination.
type FetchResult struct {
	Records      []StockRecord `json:"-"`
	PagesFetched int           `json:"pages_fetched"`
	PagesFailed  int           `json:"pages_failed"`
	Aborted      bool          `json:"aborted"`
	Truncated    bool          `json:"truncated"`
	Degraded     bool          `json:"degraded"`
}
