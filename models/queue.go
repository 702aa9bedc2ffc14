package models

import "time"

const QueueMaxLinger = 250 * time.Millisecond
const QueueDefaultVisibilityTimeout = 5 * time.Minute
const QueueMaxReceiveCount = 3

// ClaimBusyWait is how long a claim request keeps retrying a busy ledger before going back on the queue
const ClaimBusyWait = 10 * time.Second

type PubSubPublishTask struct {
	Topic string
	Data  []byte
}
