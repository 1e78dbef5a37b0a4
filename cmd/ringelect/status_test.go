package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/galdor/go-ringvote/pkg/ring"
	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	var buf bytes.Buffer

	roundLog := ring.NewRoundLog()

	status := NewStatus("run", 0, roundLog, ring.NewConsoleReporter(&buf))
	status.SetRole(ring.RoleCoordinator)

	data := status.Data()
	assert.Equal(t, "run", data.RunId)
	assert.Equal(t, ring.RoleCoordinator, data.Role)
	assert.Equal(t, ring.ElectionStateVoting, data.State)
	assert.Equal(t, 0, data.Round)

	status.Trace(ring.Event{Type: ring.EventVoteDrawn, Round: 1})
	status.Trace(ring.Event{Type: ring.EventMessageSent, Round: 7})
	assert.Equal(t, 1, status.Data().Round)

	failure := ring.NewRoundOutcome(1, 0, false, 3)
	roundLog.Append(failure)
	status.RoundFailed(failure)

	status.Trace(ring.Event{Type: ring.EventVoteDrawn, Round: 2})

	success := ring.NewRoundOutcome(2, 4, true, 3)
	roundLog.Append(success)
	status.Elected(success)

	status.Terminate(&ring.Result{Rank: 0, Rounds: 2, Outcome: &success})

	data = status.Data()
	assert.Equal(t, ring.ElectionStateTerminated, data.State)
	assert.Equal(t, 2, data.Round)
	assert.Equal(t, &success, data.Outcome)
	assert.Empty(t, data.Error)

	assert.Equal(t, []ring.RoundOutcome{failure, success}, status.Rounds())

	assert.Equal(t, "Round 1: FAIL\nElected peer: #2\nTotal voting rounds: 2\n",
		buf.String())
}

func TestStatusAbort(t *testing.T) {
	status := NewStatus("run", 2, ring.NewRoundLog(),
		ring.NewConsoleReporter(&bytes.Buffer{}))

	status.Abort(errors.New("cannot form ring"))

	data := status.Data()
	assert.Equal(t, ring.ElectionStateTerminated, data.State)
	assert.Equal(t, "cannot form ring", data.Error)
	assert.Nil(t, data.Outcome)
}
