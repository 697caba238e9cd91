package backends

// Layer turns one Accessor into another. A layer may intercept, retry, log or
// measure calls before delegating to the accessor it wraps, but must keep the
// accessor contract: error kinds surface unchanged and success keeps its meaning.
type Layer interface {
	Layer(inner Accessor) Accessor
}

// LayerFunc adapts a plain function to the Layer interface
type LayerFunc func(inner Accessor) Accessor

// Layer calls f(inner)
func (f LayerFunc) Layer(inner Accessor) Accessor {
	return f(inner)
}

// Chain applies layers to backend so that the first layer is the outermost:
// Chain(b, l1, l2, l3) is l1(l2(l3(b))). l1 sees every call first and every result last.
// Nil layers are skipped.
func Chain(backend Accessor, layers ...Layer) Accessor {
	acc := backend
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] == nil {
			continue
		}
		acc = layers[i].Layer(acc)
	}
	return acc
}
