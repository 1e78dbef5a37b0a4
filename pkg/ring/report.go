package ring

import (
	"fmt"
	"io"
)

// ConsoleReporter prints one line per failed round, and the elected peer
// (1-based) followed by the number of rounds once the election succeeds.
type ConsoleReporter struct {
	w io.Writer
}

func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{w: w}
}

func (r *ConsoleReporter) RoundFailed(outcome RoundOutcome) {
	fmt.Fprintf(r.w, "Round %d: FAIL\n", outcome.Round)
}

func (r *ConsoleReporter) Elected(outcome RoundOutcome) {
	fmt.Fprintf(r.w, "Elected peer: #%d\n", outcome.Leader+1)
	fmt.Fprintf(r.w, "Total voting rounds: %d\n", outcome.Round)
}
