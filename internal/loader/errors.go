package loader

import (
	"errors"
	"fmt"
	"strings"
)

// ErrLoaderClassInvariantViolated matches every *InvariantError.
var ErrLoaderClassInvariantViolated = errors.New("loader class invariant violated")

// Kind names the invariant a dex pair broke.
type Kind string

const (
	KindPrimaryOldMissing     Kind = "primary-old-missing"
	KindPrimaryNewMissing     Kind = "primary-new-missing"
	KindLoaderNotInPrimaryOld Kind = "loader-not-in-primary-old"
	KindLoaderAdded           Kind = "loader-added-in-primary"
	KindFoundInSecondaryOld   Kind = "loader-in-secondary-old"
	KindFoundInSecondaryNew   Kind = "loader-in-secondary-new"
	KindLoaderChanged         Kind = "loader-changed"
)

var kindMessages = map[Kind]string{
	KindPrimaryOldMissing:     "old primary dex is missing",
	KindPrimaryNewMissing:     "new primary dex is missing",
	KindLoaderNotInPrimaryOld: "no loader class appears in the old primary dex",
	KindLoaderAdded:           "loader classes added to the new primary dex would not take effect",
	KindFoundInSecondaryOld:   "loader classes found in an old secondary dex",
	KindFoundInSecondaryNew:   "loader classes found in a new secondary dex",
	KindLoaderChanged:         "loader classes changed in the new primary dex would not take effect",
}

// InvariantError reports which loader class rule failed and for which
// classes.
type InvariantError struct {
	Kind    Kind     `json:"kind"`
	Dex     string   `json:"dex"`
	Classes []string `json:"classes,omitempty"`
}

func (e *InvariantError) Error() string {
	msg := kindMessages[e.Kind]
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Dex != "" {
		msg = fmt.Sprintf("%s: %s", e.Dex, msg)
	}
	if len(e.Classes) > 0 {
		msg += ": " + strings.Join(e.Classes, ", ")
	}
	return msg
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrLoaderClassInvariantViolated
}
