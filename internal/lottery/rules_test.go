package lottery

import (
	"testing"

	"github.com/danmuck/lotteryd/internal/protocol"
)

func TestHasWon(t *testing.T) {
	cases := []struct {
		number string
		want   bool
	}{
		{"7574", true},
		{" 7574 ", true},
		{"7573", false},
		{"", false},
		{"not-a-number", false},
	}
	for _, tc := range cases {
		bet := protocol.Bet{Agency: 1, Number: tc.number}
		if got := HasWon(bet, DefaultWinningNumber); got != tc.want {
			t.Fatalf("HasWon(%q) = %v, want %v", tc.number, got, tc.want)
		}
	}
}
