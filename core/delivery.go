package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/weftnet/weft/protocol"
	"github.com/weftnet/weft/session"
	"github.com/weftnet/weft/state"
	"github.com/weftnet/weft/store"
)

// StatusListener observes message status changes. Listeners run on the
// dispatch thread and must return quickly.
type StatusListener func(m state.Message)

// Delivery queues outbound messages, gates them on route and session
// availability, tracks per-message delivery status, and drives retries.
// Messages are never silently dropped: running out of retries is a reported
// condition, not a deletion.
type Delivery struct {
	s        *state.State
	env      *state.Env
	Sessions *session.Manager

	msgSubs  map[state.PayloadId][]StatusListener
	convSubs map[state.NodeId][]StatusListener

	// one logical send-session (usage) per destination with traffic in flight
	usageByDest map[state.NodeId]state.UsageId

	// gates so only one resolve/establish waiter runs per destination
	resolving    map[state.NodeId]bool
	establishing map[state.NodeId]bool
}

func (dv *Delivery) Init(s *state.State) error {
	dv.s = s
	dv.env = s.Env
	dv.msgSubs = make(map[state.PayloadId][]StatusListener)
	dv.convSubs = make(map[state.NodeId][]StatusListener)
	dv.usageByDest = make(map[state.NodeId]state.UsageId)
	dv.resolving = make(map[state.NodeId]bool)
	dv.establishing = make(map[state.NodeId]bool)
	dv.Sessions = session.NewManager(s.Env, dv.handshakeSender())

	if err := dv.recover(s); err != nil {
		return err
	}

	s.Env.RepeatTask(func(s *state.State) error {
		return dv.retrySweep(s)
	}, s.MeshCfg.Tunables.EffRetryInterval())
	return nil
}

// recover re-queues messages that were in flight when the process died. A
// Sent message without a recorded ack cannot be trusted to have arrived, so
// it goes back through Failed into the retry path.
func (dv *Delivery) recover(s *state.State) error {
	st := dv.store()
	msgs, err := st.Messages()
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.Sender != s.LocalCfg.Id || m.Status != state.MessageSent {
			continue
		}
		m.Status = state.MessageFailed
		if err := st.UpdateMessage(m); err != nil {
			return err
		}
	}
	for dest, id := range dv.rebuildUsages(s) {
		dv.usageByDest[dest] = id
	}
	return nil
}

func (dv *Delivery) rebuildUsages(s *state.State) map[state.NodeId]state.UsageId {
	out := make(map[state.NodeId]state.UsageId)
	for id, dest := range s.RouterState.Usages {
		out[dest] = id
	}
	return out
}

func (dv *Delivery) Cleanup(s *state.State) error {
	dv.Sessions.Close()
	return nil
}

// Send enqueues an outbound message. The caller gets the payload id
// immediately; delivery progress is observable through subscriptions.
func (dv *Delivery) Send(s *state.State, recipient state.NodeId, content []byte) (state.PayloadId, error) {
	if s.MeshCfg.TryGetNode(recipient) == nil {
		return state.PayloadId{}, fmt.Errorf("unknown recipient %q", recipient)
	}
	m := state.Message{
		Payload:   uuid.New(),
		Sender:    s.LocalCfg.Id,
		Recipient: recipient,
		Content:   content,
		Timestamp: s.Now(),
		Status:    state.MessagePending,
		Kind:      state.KindChat,
	}
	if err := dv.store().InsertMessage(m); err != nil {
		return state.PayloadId{}, err
	}
	dv.beginUsage(s, recipient)
	dv.notify(m)
	if err := dv.Pump(s, recipient); err != nil {
		return state.PayloadId{}, err
	}
	return m.Payload, nil
}

// Pump pushes every pending message for dest as far as the gates allow:
// first a usable route, then an established session, then the actual send.
func (dv *Delivery) Pump(s *state.State, dest state.NodeId) error {
	pending, err := dv.pendingFor(s, dest)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	tun := Get[*Discovery](s).tuning(s)
	if _, ok := TableLookupFresh(s.RouterState, dest, s.Now(), tun.RouteTTL); !ok {
		dv.awaitRoute(s, dest)
		return nil
	}
	if !dv.Sessions.Has(dest) {
		dv.awaitSession(s, dest)
		return nil
	}

	for _, m := range pending {
		if err := dv.sendOne(s, m); err != nil {
			return err
		}
	}
	return nil
}

func (dv *Delivery) pendingFor(s *state.State, dest state.NodeId) ([]state.Message, error) {
	msgs, err := dv.store().MessagesByStatus(state.MessagePending)
	if err != nil {
		return nil, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.Sender == s.LocalCfg.Id && m.Recipient == dest {
			out = append(out, m)
		}
	}
	return out, nil
}

func (dv *Delivery) awaitRoute(s *state.State, dest state.NodeId) {
	if dv.resolving[dest] {
		return
	}
	dv.resolving[dest] = true
	ch := Get[*Discovery](s).ResolveRoute(s, dest)
	go func() {
		err := <-ch
		dv.env.Dispatch(func(s *state.State) error {
			dv.resolving[dest] = false
			if err != nil {
				return dv.failAll(s, dest, fmt.Errorf("%w: %v", ErrNoRoute, err))
			}
			return dv.Pump(s, dest)
		})
	}()
}

func (dv *Delivery) awaitSession(s *state.State, dest state.NodeId) {
	if dv.establishing[dest] {
		return
	}
	dv.establishing[dest] = true
	ch := dv.Sessions.Establish(dest)
	go func() {
		err := <-ch
		dv.env.Dispatch(func(s *state.State) error {
			dv.establishing[dest] = false
			if err != nil {
				return dv.failAll(s, dest, fmt.Errorf("%w: %v", ErrSessionUnavailable, err))
			}
			return dv.Pump(s, dest)
		})
	}()
}

func (dv *Delivery) sendOne(s *state.State, m state.Message) error {
	body, err := dv.Sessions.Encrypt(m.Recipient, m.Content)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			dv.awaitSession(s, m.Recipient)
			return nil
		}
		return err
	}
	f := protocol.DataFrame(protocol.Data{
		Payload:   m.Payload,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Timestamp: m.Timestamp,
		Kind:      uint8(m.Kind),
		Body:      body,
	})
	err = Get[*Mesh](s).SendRouted(s, m.Recipient, f)
	if errors.Is(err, ErrNoRoute) {
		dv.awaitRoute(s, m.Recipient)
		return nil
	}
	if err != nil {
		// repair already ran inside SendRouted; the message stays queued
		s.Log.Debug("send deferred after link failure", "payload", m.Payload, "dest", m.Recipient, "err", err)
		return nil
	}
	return dv.transition(s, m.Key(), state.MessageSent)
}

// HandleFrame processes end-to-end frames: data, acks, read receipts, and
// session handshakes. Transit frames are forwarded along the route table.
func (dv *Delivery) HandleFrame(s *state.State, from state.NodeId, f *protocol.Frame) error {
	switch f.Kind {
	case protocol.KindData:
		if f.Data.Recipient != s.LocalCfg.Id {
			return Get[*Mesh](s).Forward(s, from, f.Data.Recipient, f)
		}
		return dv.receiveData(s, *f.Data)
	case protocol.KindAck:
		if f.Ack.Sender != s.LocalCfg.Id {
			return Get[*Mesh](s).Forward(s, from, f.Ack.Sender, f)
		}
		return dv.receiveAck(s, *f.Ack)
	case protocol.KindRead:
		if f.Read.Sender != s.LocalCfg.Id {
			return Get[*Mesh](s).Forward(s, from, f.Read.Sender, f)
		}
		return dv.receiveRead(s, *f.Read)
	case protocol.KindHandshake:
		if f.Handshake.To != s.LocalCfg.Id {
			return Get[*Mesh](s).Forward(s, from, f.Handshake.To, f)
		}
		if err := dv.Sessions.HandleHandshake(*f.Handshake); err != nil {
			s.Log.Warn("handshake rejected", "from", f.Handshake.From, "err", err)
		}
		return nil
	}
	return fmt.Errorf("delivery cannot handle frame kind %s", f.Kind)
}

func (dv *Delivery) receiveData(s *state.State, d protocol.Data) error {
	plain, err := dv.Sessions.Decrypt(d.Sender, d.Body)
	if err != nil {
		s.Log.Warn("cannot decrypt message", "from", d.Sender, "payload", d.Payload, "err", err)
		if errors.Is(err, session.ErrNoSession) {
			// heal after restart: a fresh handshake lets the sender's retry through
			dv.awaitSession(s, d.Sender)
		}
		return nil
	}
	m := state.Message{
		Payload:   d.Payload,
		Sender:    d.Sender,
		Recipient: d.Recipient,
		Content:   plain,
		Timestamp: d.Timestamp,
		Status:    state.MessageDelivered,
		Kind:      state.MessageKind(d.Kind),
	}
	err = dv.store().InsertMessage(m)
	if errors.Is(err, store.ErrDuplicateMessage) {
		// the previous ack was lost; acknowledge again but store nothing
		s.Log.Debug("duplicate message, re-acking", "payload", d.Payload, "from", d.Sender)
	} else if err != nil {
		return err
	} else {
		dv.notify(m)
	}
	dv.sendControl(s, d.Sender, protocol.AckFrame(protocol.Ack{
		Payload:   d.Payload,
		Sender:    d.Sender,
		Recipient: d.Recipient,
	}))
	return nil
}

func (dv *Delivery) receiveAck(s *state.State, a protocol.Ack) error {
	key := state.MessageKey{Payload: a.Payload, Sender: a.Sender, Recipient: a.Recipient}
	m, found, err := dv.store().GetMessage(key)
	if err != nil {
		return err
	}
	if !found {
		s.Log.Debug("ack for unknown message", "payload", a.Payload)
		return nil
	}
	if m.Status != state.MessageSent {
		s.Log.Debug("late ack ignored", "payload", a.Payload, "status", m.Status)
		return nil
	}
	if err := dv.transition(s, key, state.MessageDelivered); err != nil {
		return err
	}
	return dv.endUsageIfIdle(s, a.Recipient)
}

func (dv *Delivery) receiveRead(s *state.State, r protocol.Read) error {
	key := state.MessageKey{Payload: r.Payload, Sender: r.Sender, Recipient: r.Recipient}
	m, found, err := dv.store().GetMessage(key)
	if err != nil || !found {
		return err
	}
	if m.Status != state.MessageDelivered {
		s.Log.Debug("read receipt ignored", "payload", r.Payload, "status", m.Status)
		return nil
	}
	return dv.transition(s, key, state.MessageRead)
}

// MarkRead is the recipient-side read mark: local status change plus a read
// receipt routed back to the sender.
func (dv *Delivery) MarkRead(s *state.State, key state.MessageKey) error {
	m, found, err := dv.store().GetMessage(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no such message %s", key.Payload)
	}
	if m.Recipient != s.LocalCfg.Id {
		return errors.New("only the recipient can mark a message read")
	}
	if m.Status == state.MessageRead {
		return nil
	}
	if err := dv.transition(s, key, state.MessageRead); err != nil {
		return err
	}
	dv.sendControl(s, m.Sender, protocol.ReceiptFrame(protocol.Read{
		Payload:   m.Payload,
		Sender:    m.Sender,
		Recipient: m.Recipient,
	}))
	return nil
}

// RouteBroken is the explicit negative transport signal: in-flight messages
// to dest fall back through Failed and re-enter the queue immediately.
func (dv *Delivery) RouteBroken(s *state.State, dest state.NodeId) {
	msgs, err := dv.store().MessagesByStatus(state.MessageSent)
	if err != nil {
		s.Cancel(err)
		return
	}
	requeued := false
	for _, m := range msgs {
		if m.Sender != s.LocalCfg.Id || m.Recipient != dest {
			continue
		}
		if err := dv.transition(s, m.Key(), state.MessageFailed); err != nil {
			s.Cancel(err)
			return
		}
		if err := dv.requeue(s, m.Key()); err != nil {
			s.Cancel(err)
			return
		}
		requeued = true
	}
	if requeued {
		if err := dv.Pump(s, dest); err != nil {
			s.Cancel(err)
		}
	}
}

// retrySweep periodically re-queries failed messages and re-attempts them.
func (dv *Delivery) retrySweep(s *state.State) error {
	msgs, err := dv.store().MessagesByStatus(state.MessageFailed)
	if err != nil {
		return err
	}
	touched := make(map[state.NodeId]struct{})
	for _, m := range msgs {
		if m.Sender != s.LocalCfg.Id {
			continue
		}
		if m.Attempts >= s.MeshCfg.Tunables.EffMaxSendAttempts() {
			s.Log.Warn("giving up on message", "payload", m.Payload, "dest", m.Recipient, "attempts", m.Attempts, "err", ErrRetriesExhausted)
			continue
		}
		if err := dv.requeue(s, m.Key()); err != nil {
			return err
		}
		touched[m.Recipient] = struct{}{}
	}
	for dest := range touched {
		if err := dv.Pump(s, dest); err != nil {
			return err
		}
	}
	return nil
}

func (dv *Delivery) requeue(s *state.State, key state.MessageKey) error {
	m, found, err := dv.store().GetMessage(key)
	if err != nil || !found {
		return err
	}
	m.Attempts++
	if err := dv.store().UpdateMessage(m); err != nil {
		return err
	}
	return dv.transition(s, key, state.MessagePending)
}

func (dv *Delivery) failAll(s *state.State, dest state.NodeId, cause error) error {
	s.Log.Info("delivery failed", "dest", dest, "cause", cause)
	for _, status := range []state.MessageStatus{state.MessagePending, state.MessageSent} {
		msgs, err := dv.store().MessagesByStatus(status)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.Sender != s.LocalCfg.Id || m.Recipient != dest {
				continue
			}
			if err := dv.transition(s, m.Key(), state.MessageFailed); err != nil {
				return err
			}
		}
	}
	return nil
}

// transition advances a message's status, enforcing the state machine, and
// persists and publishes the change.
func (dv *Delivery) transition(s *state.State, key state.MessageKey, next state.MessageStatus) error {
	m, found, err := dv.store().GetMessage(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no such message %s", key.Payload)
	}
	if !m.Status.CanTransition(next) {
		return fmt.Errorf("illegal status transition %s -> %s for %s", m.Status, next, key.Payload)
	}
	m.Status = next
	if err := dv.store().UpdateMessage(m); err != nil {
		return err
	}
	dv.notify(m)
	return nil
}

// usage lifecycle

func (dv *Delivery) beginUsage(s *state.State, dest state.NodeId) {
	if _, ok := dv.usageByDest[dest]; ok {
		return
	}
	id := uuid.New()
	dv.usageByDest[dest] = id
	UsageBegin(s.RouterState, id, dest)
	if err := dv.store().PutUsage(id, dest); err != nil {
		s.Cancel(err)
	}
}

func (dv *Delivery) endUsageIfIdle(s *state.State, dest state.NodeId) error {
	id, ok := dv.usageByDest[dest]
	if !ok {
		return nil
	}
	for _, status := range []state.MessageStatus{state.MessagePending, state.MessageSent, state.MessageFailed} {
		msgs, err := dv.store().MessagesByStatus(status)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.Sender == s.LocalCfg.Id && m.Recipient == dest {
				return nil // still traffic in flight
			}
		}
	}
	delete(dv.usageByDest, dest)
	UsageEnd(s.RouterState, id)
	return dv.store().DeleteUsage(id)
}

// subscriptions

func (dv *Delivery) SubscribeMessage(p state.PayloadId, fn StatusListener) {
	dv.msgSubs[p] = append(dv.msgSubs[p], fn)
}

func (dv *Delivery) SubscribeConversation(peer state.NodeId, fn StatusListener) {
	dv.convSubs[peer] = append(dv.convSubs[peer], fn)
}

func (dv *Delivery) notify(m state.Message) {
	for _, fn := range dv.msgSubs[m.Payload] {
		fn(m)
	}
	peer := m.Recipient
	if m.Recipient == dv.env.LocalCfg.Id {
		peer = m.Sender
	}
	for _, fn := range dv.convSubs[peer] {
		fn(m)
	}
}

// sendControl routes a small control frame (ack, read receipt) toward dest,
// running one discovery if no route exists. Losing one is tolerable: the
// other side re-sends and we answer again.
func (dv *Delivery) sendControl(s *state.State, dest state.NodeId, f *protocol.Frame) {
	err := Get[*Mesh](s).SendRouted(s, dest, f)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrNoRoute) {
		s.Log.Debug("control frame dropped", "dest", dest, "kind", f.Kind, "err", err)
		return
	}
	ch := Get[*Discovery](s).ResolveRoute(s, dest)
	go func() {
		if e := <-ch; e != nil {
			return
		}
		dv.env.Dispatch(func(s *state.State) error {
			if err := Get[*Mesh](s).SendRouted(s, dest, f); err != nil {
				s.Log.Debug("control frame dropped", "dest", dest, "kind", f.Kind, "err", err)
			}
			return nil
		})
	}()
}

// handshakeSender routes Noise handshake messages like any other end-to-end
// frame. It must never block: it is invoked both from the dispatch thread and
// from waiter goroutines.
func (dv *Delivery) handshakeSender() session.Sender {
	return func(to state.NodeId, hs protocol.Handshake) error {
		f := protocol.HandshakeFrame(hs)
		go dv.env.Dispatch(func(s *state.State) error {
			dv.sendControl(s, to, f)
			return nil
		})
		return nil
	}
}

func (dv *Delivery) store() *store.Store {
	return Get[*Storage](dv.s).Store
}
