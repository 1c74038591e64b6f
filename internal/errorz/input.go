package errorz

import (
	"errors"
	"strings"
)

// Keyed is an error about a single named input, such as a form field.
type Keyed struct {
	Key string
	Err error
}

func (k Keyed) Error() string {
	return k.Key + ": " + k.Err.Error()
}

func (k Keyed) Unwrap() error {
	return k.Err
}

// InvalidInput is returned when input is rejected before any work is done.
// It holds one error per problem, Keyed errors point to the input at fault.
type InvalidInput []error

func (e InvalidInput) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

func (e InvalidInput) Unwrap() []error {
	return e
}

// Fields returns the message per key. Errors without a key are returned
// separately. When a key has multiple errors, the first one wins.
func (e InvalidInput) Fields() (map[string]string, []error) {
	fields := make(map[string]string)
	var other []error

	for _, err := range e {
		var keyed Keyed
		if !errors.As(err, &keyed) {
			other = append(other, err)
			continue
		}

		if _, ok := fields[keyed.Key]; !ok {
			fields[keyed.Key] = keyed.Err.Error()
		}
	}

	return fields, other
}
