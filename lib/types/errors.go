/* errors.go - classified errors shared by every component
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package types

import (
	"errors"
	"fmt"
)

var _ error = (*Error)(nil)

// Error carries a Kind, the operation that failed, and the underlying cause (which may be nil)
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError builds a classified error with a formatted operation description
func NewError(k Kind, err error, op string, v ...interface{}) *Error {
	return &Error{
		Kind: k,
		Op:   fmt.Sprintf(op, v...),
		Err:  err,
	}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the outermost classified error in err's chain
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain carries a classified error of kind k
func IsKind(err error, k Kind) bool {
	for err != nil {
		var te *Error
		if !errors.As(err, &te) {
			return false
		}
		if te.Kind == k {
			return true
		}
		err = te.Err
	}
	return false
}
