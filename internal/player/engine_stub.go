//go:build !libmpv

package player

import "errors"

// NewEngine allocates one audio engine instance.
func NewEngine() (Engine, error) {
	return nil, errors.New("libmpv engine is not enabled; build with -tags libmpv")
}
