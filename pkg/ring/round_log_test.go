package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundLog(t *testing.T) {
	assert := assert.New(t)

	l := NewRoundLog()
	assert.Equal(0, l.Len())
	assert.Equal(0, l.LastRound())
	assert.Empty(l.Outcomes())

	l.Append(NewRoundOutcome(1, 2, false, 4))
	l.Append(NewRoundOutcome(2, 2, true, 4))

	assert.Equal(2, l.Len())
	assert.Equal(2, l.LastRound())

	outcomes := l.Outcomes()
	assert.Equal([]RoundOutcome{
		{Round: 1, Elected: false, Value: Sentinel, Leader: -1},
		{Round: 2, Elected: true, Value: 2, Leader: 2},
	}, outcomes)

	// Outcomes returns a copy
	outcomes[0].Round = 42
	assert.Equal(1, l.Outcomes()[0].Round)
}
