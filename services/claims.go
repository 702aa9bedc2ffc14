package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator"

	"github.com/lopezpalacios/recurring-commitment/models"
)

type paymentClaimer interface {
	ClaimPayment(ctx context.Context, caller models.Identity, id uint64) (uint64, error)
}

// ClaimRequestService consumes claim requests queued by the off-chain orchestrator. Returning an error leaves the
// message on the queue to be retried, returning nil acknowledges it.
type ClaimRequestService struct {
	ledger        paymentClaimer
	validator     *validator.Validate
	metricService models.MetricService
	logger        models.Logger
	// busyWait bounds how long a request keeps retrying while the ledger is running another operation
	busyWait time.Duration
}

func NewClaimRequestService(ledger paymentClaimer, metricService models.MetricService, logger models.Logger) *ClaimRequestService {
	return &ClaimRequestService{ledger, validator.New(), metricService, logger, models.ClaimBusyWait}
}

func (c ClaimRequestService) Claim(ctx context.Context, msgBody string) error {
	c.metricService.Count(ctx, models.MetricName_ClaimRequestIngress, 1)
	claimReq := new(models.ClaimRequestMessage)
	if err := json.Unmarshal([]byte(msgBody), claimReq); err != nil {
		// A malformed request will never succeed, so drop it instead of cycling it to the DLQ
		c.metricService.Count(ctx, models.MetricName_ClaimRequestInvalid, 1)
		c.logger.Errorf("claims: error decoding request %s: %v", msgBody, err)
		return nil
	} else if err = c.validator.Struct(claimReq); err != nil {
		c.metricService.Count(ctx, models.MetricName_ClaimRequestInvalid, 1)
		c.logger.Errorf("claims: invalid request %s: %v", msgBody, err)
		return nil
	}

	amount, err := c.claim(ctx, claimReq)
	if err == nil {
		c.logger.Infow("claims: request fulfilled",
			"rid", claimReq.Id,
			"cid", *claimReq.CommitmentId,
			"recipient", claimReq.Recipient,
			"amount", amount,
		)
		return nil
	}
	if retryable(err) {
		c.logger.Warnf("claims: request %s on commitment %d will be retried: %v", claimReq.Id, *claimReq.CommitmentId, err)
		return err
	}
	c.logger.Infof("claims: request %s on commitment %d rejected: %v", claimReq.Id, *claimReq.CommitmentId, err)
	return nil
}

// claim retries in place while the ledger is busy with another operation, so that workers contending for the ledger
// don't burn through the message's receive count.
func (c ClaimRequestService) claim(ctx context.Context, claimReq *models.ClaimRequestMessage) (uint64, error) {
	busyBackoff := backoff.NewExponentialBackOff()
	busyBackoff.InitialInterval = 10 * time.Millisecond
	busyBackoff.MaxInterval = time.Second
	busyBackoff.MaxElapsedTime = c.busyWait
	var amount uint64
	err := backoff.Retry(func() error {
		var claimErr error
		amount, claimErr = c.ledger.ClaimPayment(ctx, claimReq.Recipient, *claimReq.CommitmentId)
		if claimErr != nil && !errors.Is(claimErr, models.ErrReentrantCall) {
			return backoff.Permanent(claimErr)
		}
		return claimErr
	}, backoff.WithContext(busyBackoff, ctx))
	return amount, err
}

// retryable reports whether err may clear up without intervention, e.g. once the payer tops up. Failures from outside
// the ledger, such as storage, are retried as well.
func retryable(err error) bool {
	var ledgerErr *models.Error
	if !errors.As(err, &ledgerErr) {
		return true
	}
	return errors.Is(err, models.ErrInsufficientBalance) ||
		errors.Is(err, models.ErrTransferFailed) ||
		errors.Is(err, models.ErrReentrantCall) ||
		errors.Is(err, models.ErrConcurrentModification)
}
