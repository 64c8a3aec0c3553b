package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cert(id string, createdAt time.Time, active bool, notAfter time.Time) *Certificate {
	return &Certificate{
		ID:        id,
		TenantID:  "tenant-1",
		CertPEM:   "cert",
		KeyPEM:    "key",
		Active:    active,
		NotAfter:  notAfter,
		CreatedAt: createdAt,
	}
}

func TestSelectCertificate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(365 * 24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	t.Run("newest active wins", func(t *testing.T) {
		older := cert("old", now.Add(-48*time.Hour), true, future)
		newer := cert("new", now.Add(-1*time.Hour), true, future)

		selected := SelectCertificate([]*Certificate{older, newer}, now)
		require.NotNil(t, selected)
		assert.Equal(t, "new", selected.ID)
	})

	t.Run("expired never selected even when newer", func(t *testing.T) {
		valid := cert("valid", now.Add(-48*time.Hour), true, future)
		expired := cert("expired", now.Add(-1*time.Hour), true, past)

		selected := SelectCertificate([]*Certificate{valid, expired}, now)
		require.NotNil(t, selected)
		assert.Equal(t, "valid", selected.ID)
	})

	t.Run("inactive never selected", func(t *testing.T) {
		inactive := cert("inactive", now, false, future)

		assert.Nil(t, SelectCertificate([]*Certificate{inactive}, now))
	})

	t.Run("missing material never selected", func(t *testing.T) {
		noKey := cert("no-key", now, true, future)
		noKey.KeyPEM = ""

		assert.Nil(t, SelectCertificate([]*Certificate{noKey}, now))
	})

	t.Run("zero expiry treated as non-expiring", func(t *testing.T) {
		open := cert("open", now, true, time.Time{})

		selected := SelectCertificate([]*Certificate{open}, now)
		require.NotNil(t, selected)
		assert.Equal(t, "open", selected.ID)
	})

	t.Run("empty set", func(t *testing.T) {
		assert.Nil(t, SelectCertificate(nil, now))
	})
}

func TestDecimalMirrors(t *testing.T) {
	t.Run("document round trip", func(t *testing.T) {
		doc := &Document{Total: decimal.RequireFromString("1234.56")}
		doc.EncodeValues()
		assert.Equal(t, "1234.56", doc.TotalRaw)

		restored := &Document{TotalRaw: doc.TotalRaw}
		restored.DecodeValues()
		assert.True(t, restored.Total.Equal(doc.Total))
	})

	t.Run("item round trip", func(t *testing.T) {
		item := &DocumentItem{
			Quantity:  decimal.RequireFromString("2.5"),
			UnitValue: decimal.RequireFromString("10.10"),
			Total:     decimal.RequireFromString("25.25"),
		}
		item.EncodeValues()

		restored := &DocumentItem{
			QuantityRaw:  item.QuantityRaw,
			UnitValueRaw: item.UnitValueRaw,
			TotalRaw:     item.TotalRaw,
		}
		restored.DecodeValues()
		assert.True(t, restored.Quantity.Equal(item.Quantity))
		assert.True(t, restored.UnitValue.Equal(item.UnitValue))
		assert.True(t, restored.Total.Equal(item.Total))
	})

	t.Run("empty and malformed raw decode to zero", func(t *testing.T) {
		entry := &PayableEntry{ValueRaw: ""}
		entry.DecodeValues()
		assert.True(t, entry.Value.IsZero())

		entry = &PayableEntry{ValueRaw: "not-a-number"}
		entry.DecodeValues()
		assert.True(t, entry.Value.IsZero())
	})
}
