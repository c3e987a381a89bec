// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package datanode

import (
	"errors"
	"fmt"
)

// Structural error kinds. They are never retried; callers match them with errors.Is.
var (
	ErrDegreeMismatch     = errors.New("degree mismatch")
	ErrUnexpectedLeafNode = errors.New("unexpected leaf node")
	ErrDataAlreadyExists  = errors.New("data already exists")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrUnknownDegree      = errors.New("unknown degree")
	ErrMissingBranch      = errors.New("missing branch")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrInvalidDegree      = errors.New("invalid degree")
)

// Error describes a structural failure at a specific place in a tree.
type Error struct {
	Kind error
	Path Path
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s at %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func structural(kind error, path Path, format string, args ...any) error {
	return &Error{Kind: kind, Path: path.Clone(), Msg: fmt.Sprintf(format, args...)}
}
