package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lopezpalacios/recurring-commitment/models"
)

// FailureHandlingService consumes the dead-letter queue. Claim requests land there after exhausting their retries,
// usually because the payer stayed underfunded, so each one raises an alert for someone to follow up on.
type FailureHandlingService struct {
	notif         models.Notifier
	metricService models.MetricService
	logger        models.Logger
}

func NewFailureHandlingService(notif models.Notifier, metricService models.MetricService, logger models.Logger) *FailureHandlingService {
	return &FailureHandlingService{notif, metricService, logger}
}

func (f FailureHandlingService) DLQ(ctx context.Context, msgBody string) error {
	f.metricService.Count(ctx, models.MetricName_ClaimRequestDlq, 1)
	msgType := "Unknown message"
	claimReq := new(models.ClaimRequestMessage)
	if err := json.Unmarshal([]byte(msgBody), claimReq); err == nil && claimReq.CommitmentId != nil {
		msgType = fmt.Sprintf("Claim request %s for commitment %d", claimReq.Id, *claimReq.CommitmentId)
		f.logger.Debugw("dlq: dequeued",
			"request", claimReq,
		)
	} else {
		f.logger.Warnf("dlq: dequeued unrecognized message: %s", msgBody)
	}
	// Returning the alert error leaves the message on the DLQ so that it isn't lost when Discord is unreachable
	return f.notif.SendAlert(
		models.AlertTitle,
		models.AlertDesc_DeadLetterQueue+":\n"+fmt.Sprintf(models.AlertFmt_DeadLetterQueue, msgType, models.QueueMaxReceiveCount, msgBody),
	)
}
