package callback

import "github.com/tphakala/webaudio-go/internal/errors"

const componentCallback = "callback"

var (
	// ErrRevoked is returned by Invoke once the handle has been revoked
	ErrRevoked = errors.New(errors.NewStd("callback handle revoked")).
			Component(componentCallback).
			Category(errors.CategoryDelivery).
			Build()

	// ErrAlreadyRevoked is returned by a second Revoke on the same handle
	ErrAlreadyRevoked = errors.New(errors.NewStd("callback handle already revoked")).
				Component(componentCallback).
				Category(errors.CategoryState).
				Build()
)
