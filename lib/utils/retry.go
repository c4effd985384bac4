package utils

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// initialInterval is the first wait between attempts.
var initialInterval = backoff.DefaultInitialInterval

// Retry calls f with exponential backoff until it succeeds, returns a
// permanent error, ctx is done, or timeout has elapsed since the first
// attempt. A zero timeout calls f exactly once.
func Retry[T any](ctx context.Context, log logrus.FieldLogger, timeout time.Duration, f func() (T, error)) (T, error) {
	var ret T

	op := func() error {
		var err error
		ret, err = f()
		return err
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if timeout > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = initialInterval
		eb.MaxElapsedTime = timeout
		b = eb
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Errorf("Error performing operation; retrying in %v: %v", wait.Round(time.Millisecond), err)
	})
	return ret, err
}

// Permanent marks err so Retry gives up at once. Client errors that a
// second attempt cannot fix (bad request, auth, not found) are permanent;
// everything else, including transport errors, may be retried.
func Permanent(res *http.Response, err error) error {
	if err == nil || res == nil {
		return err
	}
	switch res.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusGone, http.StatusUnprocessableEntity:
		return backoff.Permanent(fmt.Errorf("%s: %w", res.Status, err))
	}
	return err
}
