package domain

// MenuItem: позиция меню из удалённого каталога.
type MenuItem struct {
	ID          string
	Name        string
	Description string
	Category    string
	PriceMinor  int64
	ImageURL    string
	Available   bool
	// Temperatures/SugarLevels: допустимые значения опций; пустой список означает "без опции".
	Temperatures []string
	SugarLevels  []string
}

// Стандартные категории меню кофейни.
const (
	CategoryCoffee = "coffee"
	CategoryTea    = "tea"
	CategoryPastry = "pastry"
	CategoryDrink  = "drink"
)

// SupportsTemperature проверяет, допустима ли выбранная температура для позиции.
func (m MenuItem) SupportsTemperature(value string) bool {
	return value == "" || contains(m.Temperatures, value)
}

// SupportsSugar проверяет, допустим ли выбранный уровень сахара для позиции.
func (m MenuItem) SupportsSugar(value string) bool {
	return value == "" || contains(m.SugarLevels, value)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
