package protocol

const (
	// Connection/credential layer.
	ErrAuth = "E_AUTH"

	// Command validation layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrNoCapacity    = "E_NO_CAPACITY"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrOutOfRange    = "E_OUT_OF_RANGE"
	ErrAlreadyPlaced = "E_ALREADY_PLACED"
	ErrNotPlaced     = "E_NOT_PLACED"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrAuth:          {},
	ErrBadRequest:    {},
	ErrNoResource:    {},
	ErrNoCapacity:    {},
	ErrInvalidTarget: {},
	ErrOutOfRange:    {},
	ErrAlreadyPlaced: {},
	ErrNotPlaced:     {},
	ErrRateLimit:     {},
	ErrInternal:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
