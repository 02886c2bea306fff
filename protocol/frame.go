// Package protocol defines the wire frames exchanged between directly adjacent
// nodes. Every frame is one variant of a tagged union; dispatch is by
// exhaustive switch on Kind, and each variant has exactly one serialization.
package protocol

import (
	"fmt"
	"time"

	"github.com/weftnet/weft/state"
)

type FrameKind uint8

const (
	KindHello FrameKind = iota + 1
	KindRouteRequest
	KindRouteReply
	KindRouteFailure
	KindData
	KindAck
	KindRead
	KindHandshake
)

func (k FrameKind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindRouteRequest:
		return "route-request"
	case KindRouteReply:
		return "route-reply"
	case KindRouteFailure:
		return "route-failure"
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	case KindRead:
		return "read"
	case KindHandshake:
		return "handshake"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Hello identifies a node on a freshly established link.
type Hello struct {
	From state.NodeId `cbor:"1,keyasint"`
}

// RouteRequest is flooded to all neighbours except the one it came from.
type RouteRequest struct {
	Correlation state.Correlation `cbor:"1,keyasint"`
	Origin      state.NodeId      `cbor:"2,keyasint"`
	Dest        state.NodeId      `cbor:"3,keyasint"`
	HopCount    uint8             `cbor:"4,keyasint"`
}

// RouteReply travels hop-by-hop along the reverse chain toward the originator.
// HopCount is the distance to Dest as seen by the sending hop.
type RouteReply struct {
	Correlation state.Correlation `cbor:"1,keyasint"`
	Origin      state.NodeId      `cbor:"2,keyasint"`
	Dest        state.NodeId      `cbor:"3,keyasint"`
	HopCount    uint8             `cbor:"4,keyasint"`
}

// RouteFailure is relayed one hop upstream toward affected senders when
// forwarding over an established route breaks.
type RouteFailure struct {
	Dest state.NodeId `cbor:"1,keyasint"`
}

// Data carries one end-to-end encrypted message. Body is opaque ciphertext to
// every hop except the recipient.
type Data struct {
	Payload   state.PayloadId `cbor:"1,keyasint"`
	Sender    state.NodeId    `cbor:"2,keyasint"`
	Recipient state.NodeId    `cbor:"3,keyasint"`
	Timestamp time.Time       `cbor:"4,keyasint"`
	Kind      uint8           `cbor:"5,keyasint"`
	Body      []byte          `cbor:"6,keyasint"`
}

// Ack confirms delivery of the message with the given payload id. It is routed
// back toward the sender.
type Ack struct {
	Payload   state.PayloadId `cbor:"1,keyasint"`
	Sender    state.NodeId    `cbor:"2,keyasint"`
	Recipient state.NodeId    `cbor:"3,keyasint"`
}

// Read is a read receipt, routed like an Ack.
type Read struct {
	Payload   state.PayloadId `cbor:"1,keyasint"`
	Sender    state.NodeId    `cbor:"2,keyasint"`
	Recipient state.NodeId    `cbor:"3,keyasint"`
}

// Handshake carries one Noise handshake message between two session endpoints.
// Intermediate hops route it like Data.
type Handshake struct {
	From state.NodeId `cbor:"1,keyasint"`
	To   state.NodeId `cbor:"2,keyasint"`
	Seq  uint8        `cbor:"3,keyasint"`
	Body []byte       `cbor:"4,keyasint"`
}

// Frame is the tagged union. Exactly the field matching Kind is set.
type Frame struct {
	Kind         FrameKind     `cbor:"1,keyasint"`
	Hello        *Hello        `cbor:"2,keyasint,omitempty"`
	RouteRequest *RouteRequest `cbor:"3,keyasint,omitempty"`
	RouteReply   *RouteReply   `cbor:"4,keyasint,omitempty"`
	RouteFailure *RouteFailure `cbor:"5,keyasint,omitempty"`
	Data         *Data         `cbor:"6,keyasint,omitempty"`
	Ack          *Ack          `cbor:"7,keyasint,omitempty"`
	Read         *Read         `cbor:"8,keyasint,omitempty"`
	Handshake    *Handshake    `cbor:"9,keyasint,omitempty"`
}

// Validate checks that the variant matching Kind, and only that variant, is set.
func (f *Frame) Validate() error {
	var want any
	set := 0
	for _, v := range []any{f.Hello, f.RouteRequest, f.RouteReply, f.RouteFailure, f.Data, f.Ack, f.Read, f.Handshake} {
		if !isNilVariant(v) {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("frame must carry exactly one variant, has %d", set)
	}
	switch f.Kind {
	case KindHello:
		want = f.Hello
	case KindRouteRequest:
		want = f.RouteRequest
	case KindRouteReply:
		want = f.RouteReply
	case KindRouteFailure:
		want = f.RouteFailure
	case KindData:
		want = f.Data
	case KindAck:
		want = f.Ack
	case KindRead:
		want = f.Read
	case KindHandshake:
		want = f.Handshake
	default:
		return fmt.Errorf("unknown frame kind %d", f.Kind)
	}
	if isNilVariant(want) {
		return fmt.Errorf("frame kind %s has no matching payload", f.Kind)
	}
	return nil
}

func isNilVariant(v any) bool {
	switch x := v.(type) {
	case *Hello:
		return x == nil
	case *RouteRequest:
		return x == nil
	case *RouteReply:
		return x == nil
	case *RouteFailure:
		return x == nil
	case *Data:
		return x == nil
	case *Ack:
		return x == nil
	case *Read:
		return x == nil
	case *Handshake:
		return x == nil
	}
	return true
}

// constructors keep Kind and variant in lockstep

func HelloFrame(from state.NodeId) *Frame {
	return &Frame{Kind: KindHello, Hello: &Hello{From: from}}
}

func RequestFrame(req RouteRequest) *Frame {
	return &Frame{Kind: KindRouteRequest, RouteRequest: &req}
}

func ReplyFrame(rep RouteReply) *Frame {
	return &Frame{Kind: KindRouteReply, RouteReply: &rep}
}

func FailureFrame(fail RouteFailure) *Frame {
	return &Frame{Kind: KindRouteFailure, RouteFailure: &fail}
}

func DataFrame(d Data) *Frame {
	return &Frame{Kind: KindData, Data: &d}
}

func AckFrame(a Ack) *Frame {
	return &Frame{Kind: KindAck, Ack: &a}
}

func ReceiptFrame(r Read) *Frame {
	return &Frame{Kind: KindRead, Read: &r}
}

func HandshakeFrame(h Handshake) *Frame {
	return &Frame{Kind: KindHandshake, Handshake: &h}
}
