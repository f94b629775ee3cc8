// Package namegen hands out human-friendly identifiers for schedulers and
// workflow runs.
package namegen

import (
	"fmt"

	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

type ID string

func Get() ID {
	return ID(gen.Get())
}

// Prefixed returns a generated ID under a fixed prefix, e.g. "run-royal-sun".
func Prefixed(prefix string) ID {
	return ID(fmt.Sprintf("%s-%s", prefix, gen.Get()))
}

func (id ID) String() string {
	return string(id)
}
