package leantime

import (
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/port/pmtool"
)

func init() {
	pmtool.Register(toolName, func(conn *connection.Connection) (pmtool.Adapter, error) {
		return New(conn)
	})
}
