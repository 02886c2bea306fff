package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRequestFrameRoundTrip(t *testing.T) {
	f := RequestFrame(RouteRequest{
		Correlation: uuid.New(),
		Origin:      "a",
		Dest:        "d",
		HopCount:    3,
	})

	raw, err := Encode(f)
	assert.NoError(t, err)

	got, err := Decode(raw)
	assert.NoError(t, err)
	assert.Equal(t, KindRouteRequest, got.Kind)
	assert.Equal(t, *f.RouteRequest, *got.RouteRequest)
}

func TestDataFrameRoundTrip(t *testing.T) {
	ts := time.Date(2026, 5, 1, 9, 30, 0, 123456000, time.UTC)
	f := DataFrame(Data{
		Payload:   uuid.New(),
		Sender:    "a",
		Recipient: "d",
		Timestamp: ts,
		Kind:      0,
		Body:      []byte("ciphertext"),
	})

	raw, err := Encode(f)
	assert.NoError(t, err)
	got, err := Decode(raw)
	assert.NoError(t, err)
	assert.Equal(t, f.Data.Payload, got.Data.Payload)
	assert.Equal(t, f.Data.Body, got.Data.Body)
	// times travel as unix microseconds
	assert.True(t, got.Data.Timestamp.Equal(ts))
}

func TestEncodingIsDeterministic(t *testing.T) {
	f := ReplyFrame(RouteReply{
		Correlation: uuid.New(),
		Origin:      "a",
		Dest:        "d",
		HopCount:    2,
	})
	a, err := Encode(f)
	assert.NoError(t, err)
	b, err := Encode(f)
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestValidateRejectsKindMismatch(t *testing.T) {
	f := &Frame{Kind: KindData, Ack: &Ack{Payload: uuid.New()}}
	assert.Error(t, f.Validate())
	_, err := Encode(f)
	assert.Error(t, err)
}

func TestValidateRejectsMultipleVariants(t *testing.T) {
	f := HelloFrame("a")
	f.Ack = &Ack{Payload: uuid.New()}
	assert.Error(t, f.Validate())
}

func TestValidateRejectsEmptyFrame(t *testing.T) {
	assert.Error(t, (&Frame{Kind: KindHello}).Validate())
	assert.Error(t, (&Frame{}).Validate())
}

func TestConstructorsProduceValidFrames(t *testing.T) {
	frames := []*Frame{
		HelloFrame("a"),
		RequestFrame(RouteRequest{Correlation: uuid.New(), Origin: "a", Dest: "b", HopCount: 1}),
		ReplyFrame(RouteReply{Correlation: uuid.New(), Origin: "a", Dest: "b", HopCount: 1}),
		FailureFrame(RouteFailure{Dest: "b"}),
		DataFrame(Data{Payload: uuid.New(), Sender: "a", Recipient: "b"}),
		AckFrame(Ack{Payload: uuid.New(), Sender: "a", Recipient: "b"}),
		ReceiptFrame(Read{Payload: uuid.New(), Sender: "a", Recipient: "b"}),
		HandshakeFrame(Handshake{From: "a", To: "b", Seq: 1, Body: []byte{1}}),
	}
	for _, f := range frames {
		assert.NoError(t, f.Validate(), f.Kind.String())
	}
}

func TestStreamFraming(t *testing.T) {
	var buf bytes.Buffer
	f1 := HelloFrame("a")
	f2 := FailureFrame(RouteFailure{Dest: "d"})
	assert.NoError(t, WriteFrame(&buf, f1))
	assert.NoError(t, WriteFrame(&buf, f2))

	got, err := ReadFrame(&buf)
	assert.NoError(t, err)
	assert.Equal(t, KindHello, got.Kind)
	got, err = ReadFrame(&buf)
	assert.NoError(t, err)
	assert.Equal(t, KindRouteFailure, got.Kind)
}

func TestReadFrameRejectsOversizedFrames(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(hdr[:]))
	assert.Error(t, err)
}
