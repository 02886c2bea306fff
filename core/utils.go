package core

import (
	"reflect"

	"github.com/weftnet/weft/state"
)

func Get[T state.Module](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}

// short renders a correlation id compactly for logs.
func short(c state.Correlation) string {
	return c.String()[:8]
}
