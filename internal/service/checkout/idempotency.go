package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

const previousFailureMessage = "previous checkout with the same idempotency key failed"

// failurePayload: сохранённая ошибка оформления, из которой при повторе восстанавливается типизированная ошибка.
type failurePayload struct {
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	Field          string `json:"field,omitempty"`
	Reason         string `json:"reason,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	BalanceMinor   int64  `json:"balance_minor,omitempty"`
	RequestedMinor int64  `json:"requested_minor,omitempty"`
	Compensated    bool   `json:"compensated,omitempty"`
}

// withIdempotency выполняет handler не более одного раза для пары (пользователь, ключ).
func (c *Coordinator) withIdempotency(
	ctx context.Context,
	req Request,
	handler func(context.Context) (Result, error),
) (Result, error) {
	key := idempotencyStoreKey(req)
	logger := c.logger.WithFields(log.Fields{"user_id": req.UserID, "idempotency_key": req.IdempotencyKey})

	reqHash, err := requestHash(req)
	if err != nil {
		logger.WithError(err).Warn("failed to build idempotency request hash")
		return Result{}, err
	}

	record, err := c.idempotency.CreateProcessing(key, reqHash, c.now().Add(c.idempotencyTTL))
	if err != nil {
		return c.replay(err, record, logger)
	}

	result, runErr := handler(ctx)
	if runErr != nil {
		c.cacheFailure(key, runErr, logger)
		return result, runErr
	}

	body, err := json.Marshal(result)
	if err == nil {
		err = c.idempotency.MarkDone(key, body, http.StatusCreated)
	}
	if err != nil {
		logger.WithError(err).Warn("failed to store idempotent checkout result")
	}
	return result, nil
}

func (c *Coordinator) replay(createErr error, record domain.IdempotencyRecord, logger *log.Entry) (Result, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Result{}, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		return Result{}, createErr
	}

	switch record.Status {
	case domain.IdempotencyStatusDone:
		var result Result
		if err := json.Unmarshal(record.ResponseBody, &result); err != nil || result.OrderID == "" {
			logger.WithError(err).Warn("failed to decode cached checkout result")
			return Result{}, errors.New("cached checkout result is unreadable")
		}
		result.Replayed = true
		if c.metrics != nil {
			c.metrics.RecordReplay()
		}
		return result, nil
	case domain.IdempotencyStatusProcessing:
		return Result{}, domain.ErrCheckoutInProgress
	case domain.IdempotencyStatusFailed:
		if c.metrics != nil {
			c.metrics.RecordReplay()
		}
		return Result{}, decodeFailure(record)
	default:
		return Result{}, errors.New("unknown idempotency record status " + string(record.Status))
	}
}

func (c *Coordinator) cacheFailure(key string, runErr error, logger *log.Entry) {
	payload, err := json.Marshal(encodeFailure(runErr))
	if err != nil {
		logger.WithError(err).Warn("failed to encode idempotency failure payload")
		payload = nil
	}
	if err := c.idempotency.MarkFailed(key, payload, StatusCode(runErr)); err != nil {
		logger.WithError(err).Warn("failed to store idempotency failure response")
	}
}

func encodeFailure(err error) failurePayload {
	payload := failurePayload{Kind: failureReason(err), Message: err.Error()}

	var validationErr *domain.ValidationError
	var fundsErr *domain.InsufficientFundsError
	var submissionErr *domain.OrderSubmissionError
	var accountErr *domain.AccountError
	switch {
	case errors.As(err, &validationErr):
		payload.Field, payload.Reason = validationErr.Field, validationErr.Reason
	case errors.As(err, &fundsErr):
		payload.UserID = fundsErr.UserID
		payload.BalanceMinor, payload.RequestedMinor = fundsErr.BalanceMinor, fundsErr.RequestedMinor
	case errors.As(err, &submissionErr):
		payload.Compensated = submissionErr.Compensated
		payload.Message = submissionErr.Err.Error()
	case errors.As(err, &accountErr):
		payload.UserID = accountErr.UserID
		if accountErr.Err != nil {
			payload.Message = accountErr.Err.Error()
		}
	}
	return payload
}

func decodeFailure(record domain.IdempotencyRecord) error {
	var payload failurePayload
	if len(record.ResponseBody) == 0 || json.Unmarshal(record.ResponseBody, &payload) != nil {
		return errors.New(previousFailureMessage)
	}
	cause := errors.New(payload.Message)

	switch payload.Kind {
	case "validation":
		return &domain.ValidationError{Field: payload.Field, Reason: payload.Reason}
	case "insufficient_funds":
		return &domain.InsufficientFundsError{
			UserID:         payload.UserID,
			BalanceMinor:   payload.BalanceMinor,
			RequestedMinor: payload.RequestedMinor,
		}
	case "submission":
		return &domain.OrderSubmissionError{Err: cause, Compensated: payload.Compensated}
	case "account":
		return &domain.AccountError{UserID: payload.UserID, Err: cause}
	case "storage":
		return &domain.StorageError{Op: "checkout", Err: cause}
	case "canceled":
		return context.Canceled
	default:
		if payload.Message == "" {
			return errors.New(previousFailureMessage)
		}
		return cause
	}
}

// StatusCode сопоставляет ошибку оформления HTTP-статусу.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusCreated
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrCheckoutInProgress), errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOrderSubmission):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccount), domain.IsStorageError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func idempotencyStoreKey(req Request) string {
	return "checkout:" + strings.TrimSpace(req.UserID) + ":" + strings.TrimSpace(req.IdempotencyKey)
}

// requestHash не включает содержимое корзины: после успешного оформления корзина пуста,
// и повтор с тем же ключом должен вернуть сохранённый результат.
func requestHash(req Request) (string, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
