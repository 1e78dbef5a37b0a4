package ring

import (
	"encoding/json"
	"fmt"
)

type Message interface {
	GetType() string
	GetRound() int

	fmt.Stringer
}

type RelayMsg struct {
	Round int
	Value Vote
}

func (msg *RelayMsg) GetType() string {
	return "relay"
}

func (msg *RelayMsg) GetRound() int {
	return msg.Round
}

func (msg *RelayMsg) String() string {
	return fmt.Sprintf("Relay{round: %d, value: %d}", msg.Round, msg.Value)
}

type ResultMsg struct {
	Round int
	Value Vote
}

func (msg *ResultMsg) GetType() string {
	return "result"
}

func (msg *ResultMsg) GetRound() int {
	return msg.Round
}

func (msg *ResultMsg) String() string {
	return fmt.Sprintf("Result{round: %d, value: %d}", msg.Round, msg.Value)
}

// SignalMsg tells every peer whether the election loop continues after a
// round. Abort is only set together with Stop, when the round limit is
// reached without any election.
type SignalMsg struct {
	Round int
	Stop  bool
	Abort bool
}

func (msg *SignalMsg) GetType() string {
	return "signal"
}

func (msg *SignalMsg) GetRound() int {
	return msg.Round
}

func (msg *SignalMsg) String() string {
	return fmt.Sprintf("Signal{round: %d, stop: %v, abort: %v}",
		msg.Round, msg.Stop, msg.Abort)
}

type ReleaseMsg struct {
	Round int
}

func (msg *ReleaseMsg) GetType() string {
	return "release"
}

func (msg *ReleaseMsg) GetRound() int {
	return msg.Round
}

func (msg *ReleaseMsg) String() string {
	return fmt.Sprintf("Release{round: %d}", msg.Round)
}

func EncodeMsg(msg Message) ([]byte, error) {
	value := struct {
		Type  string  `json:"type"`
		Value Message `json:"value"`
	}{
		Type:  msg.GetType(),
		Value: msg,
	}

	return json.Marshal(value)
}

func DecodeMsg(data []byte) (Message, error) {
	var value struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}

	var msg Message

	switch value.Type {
	case "relay":
		msg = &RelayMsg{}

	case "result":
		msg = &ResultMsg{}

	case "signal":
		msg = &SignalMsg{}

	case "release":
		msg = &ReleaseMsg{}

	default:
		return nil, fmt.Errorf("unknown message type %q", value.Type)
	}

	if err := json.Unmarshal(value.Value, msg); err != nil {
		return nil, err
	}

	return msg, nil
}
