package models

import "time"

const DefaultTick = 10 * time.Second
const DbLoadLimit = 100

// RelayMaxGapPolls is how many polls the relay waits for a missing sequence number before skipping it
const RelayMaxGapPolls = 3

type CheckpointType string

const (
	CheckpointType_EventRelay CheckpointType = "event_relay"
)

type Checkpoint struct {
	Name  string `dynamodbav:"name"`
	Value uint64 `dynamodbav:"value"`
}
