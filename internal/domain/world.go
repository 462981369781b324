package domain

import (
	"errors"
	"strings"
)

const MaxWorldIDLen = 128

var (
	ErrWorldIDEmpty   = errors.New("world id empty")
	ErrWorldIDTooLong = errors.New("world id too long")
)

// WorldID names one shared virtual space and its real-time session.
type WorldID string

func ParseWorldID(raw string) (WorldID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrWorldIDEmpty
	}
	if len(raw) > MaxWorldIDLen {
		return "", ErrWorldIDTooLong
	}
	return WorldID(raw), nil
}
