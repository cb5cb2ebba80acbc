package lottery

import (
	"strconv"
	"strings"

	"github.com/danmuck/lotteryd/internal/protocol"
)

// DefaultWinningNumber is the drawn number used when configuration does not
// override it.
const DefaultWinningNumber = 7574

// HasWon reports whether a bet's wagered number matches the drawn number.
// The number field is opaque at the protocol layer, so a non-numeric value
// simply never wins.
func HasWon(bet protocol.Bet, winning int) bool {
	n, err := strconv.Atoi(strings.TrimSpace(bet.Number))
	return err == nil && n == winning
}
