package models

type MetricName string

// Counts
const (
	MetricName_CommitmentCreated    MetricName = "commitment_created"
	MetricName_CommitmentTerminated MetricName = "commitment_terminated"
	MetricName_CommitmentPaused     MetricName = "commitment_paused"
	MetricName_CommitmentResumed    MetricName = "commitment_resumed"
	MetricName_PaymentClaimed       MetricName = "payment_claimed"
	MetricName_ClaimRejected        MetricName = "claim_rejected"
	MetricName_ClaimRequestIngress  MetricName = "claim_request_ingress"
	MetricName_ClaimRequestInvalid  MetricName = "claim_request_invalid"
	MetricName_ClaimRequestDlq      MetricName = "claim_request_dlq"
	MetricName_OperationRejected    MetricName = "operation_rejected"
	MetricName_EmergencyToggled     MetricName = "emergency_toggled"
	MetricName_AuditWriteFailed     MetricName = "audit_write_failed"
	MetricName_RelayPublished       MetricName = "relay_published"
	MetricName_RelayPublishFailed   MetricName = "relay_publish_failed"
	MetricName_IpfsError            MetricName = "ipfs_error"
	MetricName_IpfsPublishExpired   MetricName = "ipfs_pubsub_publish_expired"
)

// Distributions
const (
	MetricName_ClaimedAmount MetricName = "claimed_amount"
)

// Gauges
const (
	MetricName_CommitmentCount MetricName = "commitment_count"
)

const MetricsCallerName = "commitment-ledger"
