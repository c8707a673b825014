package constants

import "github.com/go-playground/validator/v10"

type ContextKey string

const (
	TxKey     ContextKey = "tx"
	PoolKey   ContextKey = "pool"
	LoggerKey ContextKey = "logger"
	ParamsKey ContextKey = "params"
)

const DefaultRequestIDHeader = "X-Request-ID"

// Validate is the shared struct validator for request DTOs.
var Validate = validator.New(validator.WithRequiredStructEnabled())
