package common

import (
	"strings"
	"sync"
	"unicode"

	"github.com/bwmarrin/snowflake"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
	NA       = "N/A"
)

var (
	snowNode     *snowflake.Node
	snowNodeOnce sync.Once
)

func node() *snowflake.Node {
	snowNodeOnce.Do(func() {
		n, err := snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
		snowNode = n
	})
	return snowNode
}

// UUIDint64 returns a time ordered unique id for database rows.
func UUIDint64() int64 {
	return node().Generate().Int64()
}

// IsDigits reports whether s is non-empty and made only of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// If returns a when cond is true, otherwise b.
func If[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

// IsEmptyOrNA reports blank or "N/A" values.
func IsEmptyOrNA(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == NA
}

// StripControl removes non printable runes.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
