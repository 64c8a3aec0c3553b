package storage

import "github.com/shopspring/decimal"

// Decimal values are persisted as strings (the *Raw mirror fields) so no
// precision is lost to binary floats. Backends call these before writing
// and after reading.

// EncodeValues fills the raw string mirrors from the decimal fields.
func (d *Document) EncodeValues() { d.TotalRaw = d.Total.String() }

// DecodeValues fills the decimal fields from the raw string mirrors.
func (d *Document) DecodeValues() { d.Total = parseDecimal(d.TotalRaw) }

// EncodeValues fills the raw string mirrors from the decimal fields.
func (i *DocumentItem) EncodeValues() {
	i.QuantityRaw = i.Quantity.String()
	i.UnitValueRaw = i.UnitValue.String()
	i.TotalRaw = i.Total.String()
}

// DecodeValues fills the decimal fields from the raw string mirrors.
func (i *DocumentItem) DecodeValues() {
	i.Quantity = parseDecimal(i.QuantityRaw)
	i.UnitValue = parseDecimal(i.UnitValueRaw)
	i.Total = parseDecimal(i.TotalRaw)
}

// EncodeValues fills the raw string mirror from the decimal field.
func (p *PayableEntry) EncodeValues() { p.ValueRaw = p.Value.String() }

// DecodeValues fills the decimal field from the raw string mirror.
func (p *PayableEntry) DecodeValues() { p.Value = parseDecimal(p.ValueRaw) }

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
