package archibald

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Sync-type names. Each is a separate checkpoint key and a separate record
// partition, so their writers never contend.
const (
	SyncTypeCustomers = "customers"
	SyncTypeProducts  = "products"
	SyncTypePrices    = "prices"
	SyncTypeOrders    = "orders"
)

// Customer mirrors the remote customer master data.
type Customer struct {
	ProfileID  string `json:"profile_id"`
	Name       string `json:"name"`
	VATNumber  string `json:"vat_number,omitempty"`
	PEC        string `json:"pec,omitempty"`
	SDI        string `json:"sdi,omitempty"`
	FiscalCode string `json:"fiscal_code,omitempty"`
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Mobile     string `json:"mobile,omitempty"`
}

func (c *Customer) Identity() string { return c.ProfileID }

// HashFields returns the tracked business fields in fixed order. Changing
// the order changes every hash, forcing a full rewrite on the next sync.
func (c *Customer) HashFields() []string {
	return []string{
		c.ProfileID, c.Name, c.VATNumber, c.PEC, c.SDI, c.FiscalCode,
		c.Street, c.PostalCode, c.City, c.Phone, c.Mobile,
	}
}

func (c *Customer) Payload() ([]byte, error) { return json.Marshal(c) }

// Product mirrors the remote product catalog.
type Product struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	PackageSize string `json:"package_size,omitempty"`
}

func (p *Product) Identity() string { return p.ProductID }

func (p *Product) HashFields() []string {
	return []string{p.ProductID, p.Name, p.Description, p.Category, p.PackageSize}
}

func (p *Product) Payload() ([]byte, error) { return json.Marshal(p) }

// Price is one price-list row for a product.
type Price struct {
	ProductID     string  `json:"product_id"`
	ItemSelection string  `json:"item_selection,omitempty"`
	AccountCode   string  `json:"account_code,omitempty"`
	UnitPrice     float64 `json:"unit_price"`
	Currency      string  `json:"currency,omitempty"`
	ValidFrom     string  `json:"valid_from,omitempty"`
	ValidTo       string  `json:"valid_to,omitempty"`
	MinQuantity   int     `json:"min_quantity,omitempty"`
	VATRate       float64 `json:"vat_rate,omitempty"`
}

func (p *Price) Identity() string {
	return p.ProductID + "|" + p.ItemSelection + "|" + p.ValidFrom
}

func (p *Price) HashFields() []string {
	return []string{
		p.ProductID, p.ItemSelection, p.AccountCode,
		strconv.FormatFloat(p.UnitPrice, 'f', -1, 64),
		p.Currency, p.ValidFrom, p.ValidTo,
		strconv.Itoa(p.MinQuantity),
	}
}

func (p *Price) Payload() ([]byte, error) { return json.Marshal(p) }

// OrderLine is one line of a remote order.
type OrderLine struct {
	OrderID     string  `json:"order_id"`
	LineNumber  int     `json:"line_number"`
	ProductID   string  `json:"product_id"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Status      string  `json:"status,omitempty"`
}

func (o *OrderLine) Identity() string {
	return fmt.Sprintf("%s#%d", o.OrderID, o.LineNumber)
}

func (o *OrderLine) HashFields() []string {
	return []string{
		o.OrderID, strconv.Itoa(o.LineNumber), o.ProductID, o.Description,
		strconv.Itoa(o.Quantity),
		strconv.FormatFloat(o.UnitPrice, 'f', -1, 64),
		o.Status,
	}
}

func (o *OrderLine) Payload() ([]byte, error) { return json.Marshal(o) }

// ValidateQuantity enforces the remote system's minimum/multiple ordering
// constraints before an order line is submitted, suggesting the nearest
// acceptable quantity.
func ValidateQuantity(qty, min, multiple int) error {
	if min > 0 && qty < min {
		return &ValidationError{
			Field:     "quantity",
			Rule:      fmt.Sprintf("minimum order quantity is %d", min),
			Suggested: strconv.Itoa(min),
		}
	}
	if multiple > 1 && qty%multiple != 0 {
		suggested := ((qty / multiple) + 1) * multiple
		return &ValidationError{
			Field:     "quantity",
			Rule:      fmt.Sprintf("quantity must be a multiple of %d", multiple),
			Suggested: strconv.Itoa(suggested),
		}
	}
	return nil
}
