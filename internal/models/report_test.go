package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCalculateCTR(t *testing.T) {
	assert.Equal(t, 0.0, CalculateCTR(5, 0))
	assert.Equal(t, 0.0, CalculateCTR(0, 100))
	assert.Equal(t, 10.0, CalculateCTR(2, 20))
	assert.Equal(t, 100.0, CalculateCTR(10, 10))
}

func TestCalculateECPM(t *testing.T) {
	assert.Equal(t, 0.0, CalculateECPM(decimal.NewFromInt(5), 0))
	// 2.00 over 1000 views is an eCPM of 2.00.
	assert.InDelta(t, 2.0, CalculateECPM(decimal.NewFromInt(2), 1000), 1e-9)
	assert.InDelta(t, 50.0, CalculateECPM(decimal.NewFromInt(5), 100), 1e-9)
}

func TestDailyRowDerive(t *testing.T) {
	row := DailyRow{
		Views:  20,
		Clicks: 2,
		Cost:   decimal.NewFromFloat(2.00),
	}
	row.Derive()

	assert.Equal(t, 10.0, row.CTR)
	assert.InDelta(t, 100.0, row.ECPM, 1e-9)
}
