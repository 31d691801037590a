package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

func TestComputeTotals(t *testing.T) {
	lines := []domain.CartLine{
		{ID: 1, MenuItemID: "latte", UnitPriceMinor: 450, Quantity: 2},
		{ID: 2, MenuItemID: "croissant", UnitPriceMinor: 300, Quantity: 1},
	}

	totals := domain.ComputeTotals(lines)
	require.Equal(t, int64(3), totals.ItemCount)
	require.Equal(t, int64(1200), totals.TotalMinor)

	require.Equal(t, domain.CartTotals{}, domain.ComputeTotals(nil))
}

func TestNewCartSortsByCreationTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	lines := []domain.CartLine{
		{ID: 3, MenuItemID: "tea", UnitPriceMinor: 200, Quantity: 1, CreatedAt: base.Add(2 * time.Minute)},
		{ID: 2, MenuItemID: "latte", UnitPriceMinor: 450, Quantity: 1, CreatedAt: base},
		{ID: 1, MenuItemID: "mocha", UnitPriceMinor: 500, Quantity: 1, CreatedAt: base},
	}

	cart := domain.NewCart(lines)
	require.Equal(t, []int64{1, 2, 3}, []int64{cart.Lines[0].ID, cart.Lines[1].ID, cart.Lines[2].ID})
	require.Equal(t, int64(1150), cart.Totals.TotalMinor)
	// исходный срез не меняется
	require.Equal(t, int64(3), lines[0].ID)
}

func TestCartLineConfigurationAndLabel(t *testing.T) {
	line := domain.CartLine{MenuItemID: "latte", Temperature: "Iced", Sugar: "None"}
	require.Equal(t, domain.CartConfiguration{MenuItemID: "latte", Temperature: "Iced", Sugar: "None"}, line.Configuration())
	require.Equal(t, "Iced, None", line.OptionsLabel())

	line.Temperature = ""
	require.Equal(t, "None", line.OptionsLabel())
}

func TestCartLineValidate(t *testing.T) {
	valid := domain.CartLine{MenuItemID: "latte", UnitPriceMinor: 450, Quantity: 1}
	require.Empty(t, valid.Validate())

	invalid := domain.CartLine{UnitPriceMinor: -1, Quantity: 0}
	errs := invalid.Validate()
	require.Len(t, errs, 3)
	for _, err := range errs {
		require.True(t, domain.IsValidation(err))
	}
}

func TestMenuItemSupportsOptions(t *testing.T) {
	item := domain.MenuItem{ID: "latte", Temperatures: []string{"Hot", "Iced"}, SugarLevels: []string{"None", "Normal"}}
	require.True(t, item.SupportsTemperature(""))
	require.True(t, item.SupportsTemperature("Iced"))
	require.False(t, item.SupportsTemperature("Warm"))
	require.True(t, item.SupportsSugar("Normal"))
	require.False(t, item.SupportsSugar("Extra"))
}
