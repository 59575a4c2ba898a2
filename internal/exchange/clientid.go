package exchange

import (
	"fmt"
	"sync"
	"time"
)

var (
	idMu    sync.Mutex
	lastSec int64
	idSeq   int
)

// NewClientOrderID generates a compact, monotonically-distinguishable
// client order id for coin/side, safe to call concurrently.
// Format: {coin}_{side}_{unixSeconds}{seq}.
func NewClientOrderID(coin string, isBuy bool) string {
	idMu.Lock()
	defer idMu.Unlock()

	sideCode := "B"
	if !isBuy {
		sideCode = "S"
	}

	now := time.Now().Unix()
	if now != lastSec {
		lastSec = now
		idSeq = 0
	}
	idSeq++

	return fmt.Sprintf("%s_%s_%d%03d", coin, sideCode, now, idSeq)
}

// NewRunnerAlertID synthesises a dedup key for a dispatch request that
// arrives without an alert id, formatted "runner-{coin}-{unixNanos}-{counter}".
func NewRunnerAlertID(coin string, counter int64) string {
	return fmt.Sprintf("runner-%s-%d-%d", coin, time.Now().UnixNano(), counter)
}
