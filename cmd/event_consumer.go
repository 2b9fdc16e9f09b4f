package main

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"rentalBack/internal/rental/events"
)

// startEventConsumer feeds broker events into handler until ctx ends.
func startEventConsumer(ctx context.Context, url string, handler events.Handler, logger *logrus.Logger) {
	consumer := events.NewConsumer(url, handler, logger)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("event consumer stopped: %v", err)
		}
	}()
}
