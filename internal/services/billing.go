package services

import (
	"context"

	"go.uber.org/zap"

	"sitewatch/internal/logger"
)

// BillingClient is the boundary to the external billing collaborator. The
// core only reads the tier label and, on account erasure, asks best-effort
// for the subscription to be cancelled.
type BillingClient interface {
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// NoopBillingClient is used when no billing integration is configured
type NoopBillingClient struct{}

// CancelSubscription logs and succeeds
func (NoopBillingClient) CancelSubscription(_ context.Context, subscriptionID string) error {
	if subscriptionID != "" {
		logger.L().Info("billing integration disabled, subscription left to expire",
			zap.String("subscription_id", subscriptionID))
	}
	return nil
}
