package cdc

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// debugFatal makes invariant violations panic instead of logging and
// continuing. It is off by default and no build mode turns it on; only
// SetDebugFatal changes it.
var debugFatal = false

// SetDebugFatal toggles crash-on-invariant-violation behavior.
func SetDebugFatal(enabled bool) {
	debugFatal = enabled
}

// dfatal logs an invariant violation, panicking when debug fatals are on.
func dfatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if debugFatal {
		panic(msg)
	}
	log.Error().Msg(msg)
}
