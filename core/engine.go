// Package core provides the Operator, the caller facing facade over one
// configured backend and its layers.
package core

import (
	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/internal/pathutil"
)

// Operator routes every call through its layer chain to the backend. It is
// immutable after New and safe for concurrent use.
type Operator struct {
	acc  backends.Accessor
	info backends.Info
}

// New wraps backend with layers (first layer outermost) and returns an Operator over the result
func New(backend backends.Accessor, layers ...backends.Layer) *Operator {
	acc := backends.Chain(backend, layers...)
	return &Operator{acc: acc, info: acc.Info()}
}

// Info returns the static description of the underlying backend
func (o *Operator) Info() backends.Info {
	return o.info
}

// Accessor exposes the composed accessor chain
func (o *Operator) Accessor() backends.Accessor {
	return o.acc
}

// Close releases the backend resources
func (o *Operator) Close() error {
	return o.acc.Close()
}

// prepare normalizes path and rejects operations the backend does not advertise.
// It runs before any backend call.
func (o *Operator) prepare(op, path string) (string, error) {
	normalized, err := pathutil.Normalize(path)
	if err != nil {
		return "", backends.WithOp(err, op, path)
	}
	if err := o.info.Check(op, normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
