// Package store persists routing and message state in BadgerDB. The core
// treats it as a durable map: a process restart recovers in-flight route,
// usage, and message state from here.
package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/weftnet/weft/state"
)

// ErrDuplicateMessage is returned when a message with the same
// (payload id, sender, recipient) key has already been persisted.
var ErrDuplicateMessage = errors.New("duplicate message key")

// key prefixes; one keyspace per table
var (
	prefixRoute   = []byte("r/")
	prefixRequest = []byte("q/")
	prefixUsage   = []byte("u/")
	prefixMessage = []byte("m/")
)

type Store struct {
	db *badger.DB
}

// Open opens the store at dir. An empty dir yields an in-memory store, used
// by tests and ephemeral nodes.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func routeKey(dest state.NodeId) []byte {
	return append(append([]byte{}, prefixRoute...), dest...)
}

func requestKey(c state.Correlation) []byte {
	return append(append([]byte{}, prefixRequest...), c[:]...)
}

func usageKey(id state.UsageId) []byte {
	return append(append([]byte{}, prefixUsage...), id[:]...)
}

func messageKey(k state.MessageKey) []byte {
	key := append(append([]byte{}, prefixMessage...), k.Payload[:]...)
	key = append(key, '/')
	key = append(key, k.Sender...)
	key = append(key, '/')
	key = append(key, k.Recipient...)
	return key
}

func (s *Store) put(key []byte, v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("store put: %w", err)
	}
	return nil
}

func (s *Store) delete(key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("store delete: %w", err)
	}
	return nil
}

func scan[T any](s *Store, prefix []byte) ([]T, error) {
	var out []T
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var v T
				if err := cbor.Unmarshal(val, &v); err != nil {
					return err
				}
				out = append(out, v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store scan: %w", err)
	}
	return out, nil
}

// routes

func (s *Store) PutRoute(e state.RouteEntry) error {
	return s.put(routeKey(e.Dest), e)
}

func (s *Store) DeleteRoute(dest state.NodeId) error {
	return s.delete(routeKey(dest))
}

func (s *Store) Routes() ([]state.RouteEntry, error) {
	return scan[state.RouteEntry](s, prefixRoute)
}

// in-flight discovery requests

func (s *Store) PutRequest(e state.RouteRequestEntry) error {
	return s.put(requestKey(e.Correlation), e)
}

func (s *Store) DeleteRequest(c state.Correlation) error {
	return s.delete(requestKey(c))
}

func (s *Store) Requests() ([]state.RouteRequestEntry, error) {
	return scan[state.RouteRequestEntry](s, prefixRequest)
}

// route usages

type usageRecord struct {
	Id   state.UsageId `cbor:"1,keyasint"`
	Dest state.NodeId  `cbor:"2,keyasint"`
}

func (s *Store) PutUsage(id state.UsageId, dest state.NodeId) error {
	return s.put(usageKey(id), usageRecord{Id: id, Dest: dest})
}

func (s *Store) DeleteUsage(id state.UsageId) error {
	return s.delete(usageKey(id))
}

func (s *Store) Usages() (map[state.UsageId]state.NodeId, error) {
	records, err := scan[usageRecord](s, prefixUsage)
	if err != nil {
		return nil, err
	}
	out := make(map[state.UsageId]state.NodeId, len(records))
	for _, r := range records {
		out[r.Id] = r.Dest
	}
	return out, nil
}

// messages

// InsertMessage persists a new message. A colliding key is rejected with
// ErrDuplicateMessage, never silently overwritten.
func (s *Store) InsertMessage(m state.Message) error {
	data, err := cbor.Marshal(m)
	if err != nil {
		return err
	}
	key := messageKey(m.Key())
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrDuplicateMessage
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, ErrDuplicateMessage) {
		return err
	}
	if err != nil {
		return fmt.Errorf("store insert message: %w", err)
	}
	return nil
}

// UpdateMessage rewrites an existing message record, used only to advance
// status and attempt counters.
func (s *Store) UpdateMessage(m state.Message) error {
	return s.put(messageKey(m.Key()), m)
}

func (s *Store) GetMessage(k state.MessageKey) (state.Message, bool, error) {
	var m state.Message
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageKey(k))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return state.Message{}, false, fmt.Errorf("store get message: %w", err)
	}
	return m, found, nil
}

func (s *Store) Messages() ([]state.Message, error) {
	return scan[state.Message](s, prefixMessage)
}

// MessagesByStatus returns every persisted message currently in the given
// status, used by the retry sweep.
func (s *Store) MessagesByStatus(status state.MessageStatus) ([]state.Message, error) {
	all, err := s.Messages()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, m := range all {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

// Conversation returns the messages exchanged between two nodes, in either
// direction.
func (s *Store) Conversation(a, b state.NodeId) ([]state.Message, error) {
	all, err := s.Messages()
	if err != nil {
		return nil, err
	}
	var out []state.Message
	for _, m := range all {
		if (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a) {
			out = append(out, m)
		}
	}
	return out, nil
}
