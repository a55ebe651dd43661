package engine

import "github.com/tphakala/webaudio-go/internal/errors"

const componentEngine = "engine"

var (
	// ErrAlreadyStarted is returned by a second StartRendering
	ErrAlreadyStarted = errors.New(errors.NewStd("rendering already started")).
				Component(componentEngine).
				Category(errors.CategoryState).
				Build()

	// ErrSuspendPassed is returned when the suspend frame was already rendered
	ErrSuspendPassed = errors.New(errors.NewStd("suspend time already passed")).
				Component(componentEngine).
				Category(errors.CategoryState).
				Build()

	// ErrDuplicateSuspend is returned when a suspend point is scheduled twice
	ErrDuplicateSuspend = errors.New(errors.NewStd("suspend point already scheduled")).
				Component(componentEngine).
				Category(errors.CategoryState).
				Build()

	// ErrNegativeSuspendTime is returned for a negative suspend time
	ErrNegativeSuspendTime = errors.New(errors.NewStd("suspend time must be non-negative")).
				Component(componentEngine).
				Category(errors.CategoryValidation).
				Build()
)

func constructionError(field string, value any, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component(componentEngine).
		Category(errors.CategoryConstruction).
		Context("field", field).
		Context("value", value).
		Build()
}
