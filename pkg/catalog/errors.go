// SPDX-License-Identifier: BSD-3-Clause

package catalog

import "errors"

var (
	// ErrEmptyTag indicates a registration used an empty wire tag.
	ErrEmptyTag = errors.New("event tag cannot be empty")
	// ErrNilFactory indicates a nil Factory was registered.
	ErrNilFactory = errors.New("event factory cannot be nil")
	// ErrAlreadyRegistered indicates a tag was registered more than once.
	ErrAlreadyRegistered = errors.New("event tag already registered")
	// ErrUnknownTag indicates New was called for a tag with no registered factory.
	ErrUnknownTag = errors.New("unknown event tag")
)
