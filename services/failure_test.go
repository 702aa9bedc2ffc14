package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lopezpalacios/recurring-commitment/common/loggers"
	"github.com/lopezpalacios/recurring-commitment/models"
)

func TestDLQ(t *testing.T) {
	tests := map[string]struct {
		body        func(t *testing.T) string
		notifErr    error
		shouldError bool
		expectedMsg string
	}{
		"claim request": {
			body:        func(t *testing.T) string { return claimRequest(t, 42, testRecipient) },
			expectedMsg: "for commitment 42 gave up after 3 attempts",
		},
		"unknown message": {
			body:        func(*testing.T) string { return "garbage" },
			expectedMsg: "Unknown message gave up",
		},
		"alert not delivered": {
			body:        func(t *testing.T) string { return claimRequest(t, 42, testRecipient) },
			notifErr:    errors.New("discord down"),
			shouldError: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			notifier := &MockNotifier{err: test.notifErr}
			metricService := &MockMetricService{}
			service := NewFailureHandlingService(notifier, metricService, loggers.NewTestLogger())

			err := service.DLQ(context.Background(), test.body(t))
			if test.shouldError && err == nil {
				t.Errorf("expected an error so the message stays on the DLQ")
			} else if !test.shouldError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			Assert(t, 1, metricService.count(models.MetricName_ClaimRequestDlq), "dlq count")
			if !test.shouldError {
				Assert(t, 1, notifier.numAlerts(), "alerts")
				if !strings.Contains(notifier.alerts[0], test.expectedMsg) {
					t.Errorf("alert %q does not mention %q", notifier.alerts[0], test.expectedMsg)
				}
			}
		})
	}
}
