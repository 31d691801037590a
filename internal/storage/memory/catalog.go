package memory

import (
	"context"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

var (
	hotIced    = []string{"Hot", "Iced"}
	sugarScale = []string{"None", "Less", "Normal", "Extra"}
)

// DefaultMenu: стартовое меню кофейни для локального запуска.
func DefaultMenu() []domain.MenuItem {
	return []domain.MenuItem{
		{ID: "espresso", Name: "Espresso", Description: "Double shot", Category: domain.CategoryCoffee, PriceMinor: 250, Available: true, Temperatures: []string{"Hot"}, SugarLevels: sugarScale},
		{ID: "americano", Name: "Americano", Description: "Espresso with hot water", Category: domain.CategoryCoffee, PriceMinor: 300, Available: true, Temperatures: hotIced, SugarLevels: sugarScale},
		{ID: "latte", Name: "Caffe Latte", Description: "Espresso with steamed milk", Category: domain.CategoryCoffee, PriceMinor: 450, Available: true, Temperatures: hotIced, SugarLevels: sugarScale},
		{ID: "cappuccino", Name: "Cappuccino", Description: "Espresso, milk and foam", Category: domain.CategoryCoffee, PriceMinor: 420, Available: true, Temperatures: []string{"Hot"}, SugarLevels: sugarScale},
		{ID: "green-tea", Name: "Green Tea", Description: "Sencha", Category: domain.CategoryTea, PriceMinor: 280, Available: true, Temperatures: hotIced, SugarLevels: sugarScale},
		{ID: "chai-latte", Name: "Chai Latte", Description: "Spiced black tea with milk", Category: domain.CategoryTea, PriceMinor: 400, Available: true, Temperatures: hotIced, SugarLevels: sugarScale},
		{ID: "croissant", Name: "Butter Croissant", Category: domain.CategoryPastry, PriceMinor: 300, Available: true},
		{ID: "cheesecake", Name: "Cheesecake", Category: domain.CategoryPastry, PriceMinor: 550, Available: true},
		{ID: "lemonade", Name: "Lemonade", Category: domain.CategoryDrink, PriceMinor: 350, Available: true, Temperatures: []string{"Iced"}, SugarLevels: sugarScale},
	}
}

// Catalog: статический каталог меню, реализация domain.CatalogReader.
type Catalog struct {
	byCategory map[string][]domain.MenuItem
}

// NewCatalog строит каталог из списка позиций; пустой список означает DefaultMenu.
func NewCatalog(items ...domain.MenuItem) *Catalog {
	if len(items) == 0 {
		items = DefaultMenu()
	}
	byCategory := make(map[string][]domain.MenuItem)
	for _, item := range items {
		byCategory[item.Category] = append(byCategory[item.Category], item)
	}
	return &Catalog{byCategory: byCategory}
}

// GetMenuItem возвращает позицию меню или ErrMenuItemNotFound.
func (c *Catalog) GetMenuItem(ctx context.Context, category, id string) (domain.MenuItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.MenuItem{}, err
	}
	for _, item := range c.byCategory[category] {
		if item.ID == id {
			return item, nil
		}
	}
	return domain.MenuItem{}, domain.ErrMenuItemNotFound
}

// ListByCategory возвращает позиции категории в порядке заведения.
func (c *Catalog) ListByCategory(ctx context.Context, category string) ([]domain.MenuItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := c.byCategory[category]
	result := make([]domain.MenuItem, len(items))
	copy(result, items)
	return result, nil
}

var _ domain.CatalogReader = (*Catalog)(nil)
