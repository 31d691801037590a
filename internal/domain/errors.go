package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage: класс ошибок локального хранилища корзины.
	ErrStorage = errors.New("cart storage error")
	// ErrAccount: класс ошибок чтения/записи кошелька.
	ErrAccount = errors.New("account error")
	// ErrInsufficientFunds: бизнес-правило: на балансе недостаточно средств.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrValidation: некорректный запрос (пустая корзина, нет адреса доставки и т.п.).
	ErrValidation = errors.New("validation failed")
	// ErrOrderSubmission: внешнее хранилище заказов не приняло заказ.
	ErrOrderSubmission = errors.New("order submission failed")

	// ErrCartLineNotFound возвращается, если позиции корзины с таким ID нет.
	ErrCartLineNotFound = errors.New("cart line not found")
	// ErrAccountNotFound возвращается, если кошелёк пользователя не заведён.
	ErrAccountNotFound = errors.New("account not found")
	// ErrBalanceConflict сигнализирует, что баланс изменился между чтением и записью.
	ErrBalanceConflict = errors.New("balance changed concurrently")
	// ErrMenuItemNotFound возвращается каталогом для неизвестной позиции меню.
	ErrMenuItemNotFound = errors.New("menu item not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderNotCancelable: заказ уже готовится или завершён.
	ErrOrderNotCancelable = errors.New("order cannot be canceled in current status")
	// ErrCheckoutInProgress: запрос с тем же idempotency-key ещё обрабатывается.
	ErrCheckoutInProgress = errors.New("checkout with the same idempotency key is already processing")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// StorageError оборачивает ошибку ввода-вывода хранилища корзины.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cart storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is позволяет проверять ошибку через errors.Is(err, ErrStorage).
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError возвращает nil для nil-ошибки, чтобы им было удобно оборачивать результат.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// AccountError означает, что кошелёк пользователя не удалось прочитать или записать.
type AccountError struct {
	UserID string
	Err    error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s: %v", e.UserID, e.Err)
}

func (e *AccountError) Unwrap() error { return e.Err }

func (e *AccountError) Is(target error) bool { return target == ErrAccount }

// InsufficientFundsError несёт баланс, на котором проверка не прошла.
type InsufficientFundsError struct {
	UserID         string
	BalanceMinor   int64
	RequestedMinor int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: balance %d, requested %d", e.UserID, e.BalanceMinor, e.RequestedMinor)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// ValidationError описывает некорректное поле запроса.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError: короткий конструктор для ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// OrderSubmissionError возвращается, когда заказ не был записан во внешнее хранилище.
// Compensated=true означает, что списанные средства уже возвращены на кошелёк.
type OrderSubmissionError struct {
	Err         error
	Compensated bool
}

func (e *OrderSubmissionError) Error() string {
	return fmt.Sprintf("order submission failed: %v", e.Err)
}

func (e *OrderSubmissionError) Unwrap() error { return e.Err }

func (e *OrderSubmissionError) Is(target error) bool { return target == ErrOrderSubmission }

// IsStorageError проверяет, относится ли ошибка к хранилищу корзины.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsValidation проверяет, является ли ошибка ошибкой валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
