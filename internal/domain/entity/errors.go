package entity

import (
	"errors"
	"strconv"
)

var (
	// Message errors
	ErrEmptyContent          = errors.New("message content is required")
	ErrInvalidConversationID = errors.New("invalid conversation id")

	// Conversation errors
	ErrInvalidStatus   = errors.New("invalid conversation status")
	ErrInvalidPriority = errors.New("invalid conversation priority")
	ErrEmptyUpdate     = errors.New("nothing to update")
	ErrEmptyTag        = errors.New("tag is required")

	// Configuration record errors
	ErrNameRequired       = errors.New("name is required")
	ErrContentRequired    = errors.New("content is required")
	ErrInvalidChannel     = errors.New("invalid channel type")
	ErrInvalidProvider    = errors.New("invalid provider type")
	ErrAPIKeyRequired     = errors.New("api key is required")
	ErrInvalidTemperature = errors.New("temperature must be between 0 and 2")
	ErrInvalidBackupName  = errors.New("invalid backup filename")
)

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
