package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrChatUnavailable is returned when a chat was deleted or the account
// left it. Callers mark the affected work failed and move on.
var ErrChatUnavailable = errors.New("chat unavailable")

// ErrHistoryUnsupported is returned by transports that cannot page through
// past messages. The operation that needed history fails with a clear
// message; the rest of the daemon keeps running.
var ErrHistoryUnsupported = errors.New("transport does not support history fetch")

// FloodWaitError carries the mandatory wait the transport imposed before
// the same call is accepted again. Callers sleep exactly Wait and retry.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %s", e.Wait)
}

// AsFloodWait unwraps err into a FloodWaitError if it is one.
func AsFloodWait(err error) (*FloodWaitError, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw, true
	}
	return nil, false
}
