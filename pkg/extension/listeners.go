package extension

import "slices"

// listeners is an ordered set of named listener funcs.  Callers hold the owning broker's lock.
type listeners[F any] struct {
	names []string
	funcs []F
}

// put adds the named listener at the end, replacing one with a duplicate name if present.
func (l *listeners[F]) put(name string, f F) {
	l.remove(name)
	l.names = append(l.names, name)
	l.funcs = append(l.funcs, f)
}

func (l *listeners[F]) remove(name string) {
	if i := slices.Index(l.names, name); i >= 0 {
		l.names = slices.Delete(l.names, i, i+1)
		l.funcs = slices.Delete(l.funcs, i, i+1)
	}
}

// list returns the listener names in call order.
func (l *listeners[F]) list() []string {
	return slices.Clone(l.names)
}
