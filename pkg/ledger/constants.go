package ledger

const (
	operationPlaceHold = "place_hold"
	operationConvert   = "convert"
	operationRelease   = "release"
	operationGrant     = "grant"
	operationExpire    = "expire"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// DefaultListLimit applies when a list call passes limit 0.
	DefaultListLimit = 50
	// MaxListLimit caps hold and transaction listings.
	MaxListLimit = 100

	// MinTTLMinutes and MaxTTLMinutes bound hold lifetimes.
	MinTTLMinutes = 1
	MaxTTLMinutes = 7 * 24 * 60

	// DefaultSweepBatch bounds how many stale holds one sweep pass expires.
	DefaultSweepBatch = 100
)
