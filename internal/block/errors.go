package block

import "errors"

var (
	ErrBadSize = errors.New("block: buffer must be exactly PageSize bytes")
)
