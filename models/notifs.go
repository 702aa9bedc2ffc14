package models

const AlertTitle = "Commitment Ledger Alert"

const (
	AlertDesc_EmergencyPaused   = "Emergency Pause Engaged"
	AlertDesc_EmergencyUnpaused = "Emergency Pause Lifted"
	AlertDesc_AuditWriteFailed  = "Audit Event Lost"
	AlertDesc_DeadLetterQueue   = "Claim Request Dead-Lettered"
)

const (
	AlertFmt_Emergency        string = "claims %s by %s at %s"
	AlertFmt_AuditWriteFailed string = "%s event for commitment %d was not recorded after the transfer completed: %v"
	AlertFmt_DeadLetterQueue  string = "%s gave up after %d attempts:\n%s"
)
