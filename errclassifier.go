// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import "github.com/bassosimone/errclass"

// ErrClassifier classifies errors into categorical strings for logging.
//
// Implementations map errors to short labels (e.g., "ETIMEDOUT",
// "ECONNRESET") emitted as the errClass field of span events.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier classifies using [errclass.New] and returns an
// empty string for nil errors.
var DefaultErrClassifier = ErrClassifierFunc(func(err error) string {
	if err == nil {
		return ""
	}
	return errclass.New(err)
})
