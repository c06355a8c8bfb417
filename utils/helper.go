package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/paddyledger/paddy_backend/config"
	"github.com/ttacon/libphonenumber"
)

var validate = validator.New()

// GetValidator returns the shared validator instance.
func GetValidator() *validator.Validate {
	return validate
}

// NormalizePhoneNumber validates and returns the E.164 form.
func NormalizePhoneNumber(phoneNumber, countryCode string) (string, error) {
	p, err := libphonenumber.Parse(strings.TrimSpace(phoneNumber), countryCode)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number is not valid")
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}

// ProcessValidationErrors flattens validator errors to field -> tag.
// Non-validation errors come back under the "_" key.
func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)
	if err == nil {
		return errorResponse
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errorResponse["_"] = err.Error()
		return errorResponse
	}

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func MarshalToJSON[T any](input T) (string, error) {
	jsonData, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

// ObtainLock takes a short Redis lock on lockType:key.
// Without Redis, or when Redis errors, it logs and proceeds unlocked; the
// database row locks still serialize writers. The returned release func is never nil.
// ErrLockBusy is returned only when another holder owns the lock past the retry window.
func ObtainLock(ctx context.Context, lockType string, key string, ttl time.Duration, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	noop := func() {}
	if locker == nil {
		return noop, nil
	}

	lockKey := fmt.Sprintf("%s:%s", lockType, key)
	lock, err := locker.Obtain(ctx, lockKey, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock", lockKey, err)
		return noop, ErrLockBusy
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Redis lock unavailable, proceeding without it", lockKey, err)
		return noop, nil
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}

var ErrLockBusy = errors.New("resource is busy, retry later")
