package domain

import (
	"sort"
	"strings"
	"time"
)

// CartConfiguration: ключ дедупликации позиции корзины.
// Пустые Temperature/Sugar означают, что опция не выбрана.
type CartConfiguration struct {
	MenuItemID  string
	Temperature string
	Sugar       string
}

// CartLine: одна уникальная конфигурация товара в корзине.
type CartLine struct {
	// ID назначается хранилищем при создании и не меняется до удаления позиции.
	ID         int64
	MenuItemID string
	// Снимок полей позиции меню на момент добавления.
	Name           string
	UnitPriceMinor int64
	Category       string
	ImageURL       string

	Temperature string
	Sugar       string
	Quantity    int32
	CreatedAt   time.Time
}

// Configuration возвращает ключ дедупликации позиции.
func (l CartLine) Configuration() CartConfiguration {
	return CartConfiguration{
		MenuItemID:  l.MenuItemID,
		Temperature: l.Temperature,
		Sugar:       l.Sugar,
	}
}

// LineTotalMinor: цена за единицу, умноженная на количество.
func (l CartLine) LineTotalMinor() int64 {
	return l.UnitPriceMinor * int64(l.Quantity)
}

// OptionsLabel склеивает выбранные опции через запятую.
func (l CartLine) OptionsLabel() string {
	parts := make([]string, 0, 2)
	if l.Temperature != "" {
		parts = append(parts, l.Temperature)
	}
	if l.Sugar != "" {
		parts = append(parts, l.Sugar)
	}
	return strings.Join(parts, ", ")
}

// CartTotals: агрегаты корзины.
type CartTotals struct {
	ItemCount  int64
	TotalMinor int64
}

// Cart: производное представление корзины, собирается из снимка хранилища.
type Cart struct {
	Lines  []CartLine
	Totals CartTotals
}

// ComputeTotals пересчитывает агрегаты по снимку целиком, без инкрементального учёта.
func ComputeTotals(lines []CartLine) CartTotals {
	var totals CartTotals
	for _, line := range lines {
		totals.ItemCount += int64(line.Quantity)
		totals.TotalMinor += line.LineTotalMinor()
	}
	return totals
}

// NewCart сортирует снимок по времени создания и считает агрегаты.
func NewCart(lines []CartLine) Cart {
	sorted := make([]CartLine, len(lines))
	copy(sorted, lines)
	SortCartLines(sorted)
	return Cart{Lines: sorted, Totals: ComputeTotals(sorted)}
}

// SortCartLines упорядочивает позиции по CreatedAt, затем по ID.
func SortCartLines(lines []CartLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].CreatedAt.Before(lines[j].CreatedAt)
		}
		return lines[i].ID < lines[j].ID
	})
}

// Validate проверяет инварианты позиции перед записью в хранилище.
func (l CartLine) Validate() []error {
	var errs []error
	if strings.TrimSpace(l.MenuItemID) == "" {
		errs = append(errs, NewValidationError("menu_item_id", "is required"))
	}
	if l.UnitPriceMinor < 0 {
		errs = append(errs, NewValidationError("unit_price_minor", "must be non-negative"))
	}
	if l.Quantity <= 0 {
		errs = append(errs, NewValidationError("quantity", "must be greater than zero"))
	}
	return errs
}
