// Package session establishes end-to-end secure channels between two logical
// endpoints using the Noise XX handshake. Handshake messages ride Handshake
// frames that the delivery layer routes like any other end-to-end traffic, so
// two nodes can establish a session without being adjacent.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"

	"github.com/weftnet/weft/protocol"
	"github.com/weftnet/weft/state"
)

var (
	ErrNoSession        = errors.New("no established session with peer")
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// Sender hands a handshake message to the routing layer for delivery.
type Sender func(to state.NodeId, hs protocol.Handshake) error

type session struct {
	enc, dec  *noise.CipherState
	sendNonce uint64
}

type pending struct {
	hs        *noise.HandshakeState
	initiator bool
	waiters   []chan error
}

// Manager owns all sessions of one node. It is safe for concurrent use; the
// handshake state machine serializes under an internal lock since handshake
// frames and Establish calls arrive from different goroutines.
type Manager struct {
	env    *state.Env
	static noise.DHKey
	send   Sender

	mu       sync.Mutex
	sessions map[state.NodeId]*session
	pending  map[state.NodeId]*pending
}

func NewManager(env *state.Env, send Sender) *Manager {
	priv := env.LocalCfg.Key
	pub := priv.Pubkey()
	return &Manager{
		env:      env,
		static:   noise.DHKey{Private: priv[:], Public: pub[:]},
		send:     send,
		sessions: make(map[state.NodeId]*session),
		pending:  make(map[state.NodeId]*pending),
	}
}

// Has reports whether a secure channel with peer is established.
func (m *Manager) Has(peer state.NodeId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[peer]
	return ok
}

// Establish starts (or joins) a handshake with peer. The returned channel
// yields nil once the session is up, or the failure cause. Callers waiting on
// an already-running handshake are coalesced.
func (m *Manager) Establish(peer state.NodeId) <-chan error {
	done := make(chan error, 1)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[peer]; ok {
		done <- nil
		return done
	}
	if p, ok := m.pending[peer]; ok {
		p.waiters = append(p.waiters, done)
		return done
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     true,
		StaticKeypair: m.static,
	})
	if err != nil {
		done <- err
		return done
	}
	p := &pending{hs: hs, initiator: true, waiters: []chan error{done}}
	m.pending[peer] = p

	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		m.failLocked(peer, err)
		return done
	}
	m.sendLocked(peer, 1, msg)
	m.armTimeout(peer)
	return done
}

// HandleHandshake advances the handshake state machine with one inbound
// message addressed to this node.
func (m *Manager) HandleHandshake(hs protocol.Handshake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	peer := hs.From

	switch hs.Seq {
	case 1:
		// A simultaneous open resolves deterministically: the lower node id
		// stays initiator, the higher one discards its attempt and responds.
		if p, ok := m.pending[peer]; ok && p.initiator {
			if m.env.LocalCfg.Id < peer {
				return nil
			}
		}
		st, err := noise.NewHandshakeState(noise.Config{
			CipherSuite:   cipherSuite,
			Pattern:       noise.HandshakeXX,
			Initiator:     false,
			StaticKeypair: m.static,
		})
		if err != nil {
			return err
		}
		if _, _, _, err := st.ReadMessage(nil, hs.Body); err != nil {
			return fmt.Errorf("handshake msg1 from %s: %w", peer, err)
		}
		msg, _, _, err := st.WriteMessage(nil, nil)
		if err != nil {
			return err
		}
		m.pending[peer] = &pending{hs: st, initiator: false, waiters: m.takeWaitersLocked(peer)}
		m.sendLocked(peer, 2, msg)
		m.armTimeout(peer)
		return nil

	case 2:
		p, ok := m.pending[peer]
		if !ok || !p.initiator {
			return nil // stale or duplicate
		}
		if _, _, _, err := p.hs.ReadMessage(nil, hs.Body); err != nil {
			m.failLocked(peer, err)
			return fmt.Errorf("handshake msg2 from %s: %w", peer, err)
		}
		msg, cs1, cs2, err := p.hs.WriteMessage(nil, nil)
		if err != nil {
			m.failLocked(peer, err)
			return err
		}
		m.sendLocked(peer, 3, msg)
		m.completeLocked(peer, cs1, cs2)
		return nil

	case 3:
		p, ok := m.pending[peer]
		if !ok || p.initiator {
			return nil
		}
		_, cs1, cs2, err := p.hs.ReadMessage(nil, hs.Body)
		if err != nil {
			m.failLocked(peer, err)
			return fmt.Errorf("handshake msg3 from %s: %w", peer, err)
		}
		// responder sends on cs2, receives on cs1
		m.completeLocked(peer, cs2, cs1)
		return nil
	}
	return fmt.Errorf("unexpected handshake seq %d from %s", hs.Seq, peer)
}

func (m *Manager) sendLocked(peer state.NodeId, seq uint8, body []byte) {
	hs := protocol.Handshake{From: m.env.LocalCfg.Id, To: peer, Seq: seq, Body: body}
	if err := m.send(peer, hs); err != nil {
		m.failLocked(peer, err)
	}
}

func (m *Manager) armTimeout(peer state.NodeId) {
	m.env.Clock.AfterFunc(state.SessionTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, still := m.pending[peer]; still {
			m.failLocked(peer, ErrHandshakeTimeout)
		}
	})
}

func (m *Manager) takeWaitersLocked(peer state.NodeId) []chan error {
	if p, ok := m.pending[peer]; ok {
		delete(m.pending, peer)
		return p.waiters
	}
	return nil
}

func (m *Manager) failLocked(peer state.NodeId, err error) {
	if p, ok := m.pending[peer]; ok {
		delete(m.pending, peer)
		for _, w := range p.waiters {
			w <- err
		}
	}
}

func (m *Manager) completeLocked(peer state.NodeId, enc, dec *noise.CipherState) {
	p := m.pending[peer]
	delete(m.pending, peer)
	m.sessions[peer] = &session{enc: enc, dec: dec}
	if p != nil {
		for _, w := range p.waiters {
			w <- nil
		}
	}
	m.env.Log.Debug("session established", "peer", peer)
}

// Encrypt seals plaintext for peer. The explicit nonce is prepended so that
// lost or reordered messages do not desynchronize the cipher states.
func (m *Manager) Encrypt(peer state.NodeId, plaintext []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peer]
	if !ok {
		return nil, ErrNoSession
	}
	n := s.sendNonce
	s.sendNonce++
	s.enc.SetNonce(n)
	out := make([]byte, 8, 8+len(plaintext)+16)
	binary.BigEndian.PutUint64(out, n)
	sealed, err := s.enc.Encrypt(out, nil, plaintext)
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// Decrypt opens a ciphertext produced by Encrypt on the peer's side.
func (m *Manager) Decrypt(peer state.NodeId, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 8 {
		return nil, errors.New("ciphertext too short")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peer]
	if !ok {
		return nil, ErrNoSession
	}
	n := binary.BigEndian.Uint64(ciphertext[:8])
	s.dec.SetNonce(n)
	plain, err := s.dec.Decrypt(nil, nil, ciphertext[8:])
	if err != nil {
		return nil, fmt.Errorf("decrypt from %s: %w", peer, err)
	}
	return plain, nil
}

// Drop discards any session and pending handshake with peer.
func (m *Manager) Drop(peer state.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, peer)
	m.failLocked(peer, errors.New("session dropped"))
}

// Close fails every pending handshake so no waiter dangles across shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for peer := range m.pending {
		m.failLocked(peer, errors.New("shutting down"))
	}
	m.sessions = make(map[state.NodeId]*session)
}
