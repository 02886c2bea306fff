package core

import (
	"github.com/weftnet/weft/state"
	"github.com/weftnet/weft/store"
)

// Storage opens the durable store for the node's lifetime. It must be the
// first module initialized; everything else recovers through it.
type Storage struct {
	Store *store.Store
}

func (m *Storage) Init(s *state.State) error {
	st, err := store.Open(s.LocalCfg.DataDir)
	if err != nil {
		return err
	}
	m.Store = st
	return nil
}

func (m *Storage) Cleanup(s *state.State) error {
	if m.Store == nil {
		return nil
	}
	return m.Store.Close()
}
