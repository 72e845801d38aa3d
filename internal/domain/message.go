package domain

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Envelope is the shape of every signaling message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound message types.
const (
	MsgJoin               = "join"
	MsgLeave              = "leave"
	MsgChat               = "chat"
	MsgSetName            = "set_name"
	MsgSetHandle          = "set_handle"
	MsgSetAvatar          = "set_avatar"
	MsgSetGrounded        = "set_grounded"
	MsgTransportCreate    = "webrtc.transport.create"
	MsgTransportConnect   = "webrtc.transport.connect"
	MsgRtpCapabilities    = "webrtc.rtpCapabilities"
	MsgProduce            = "webrtc.produce"
	MsgProduceData        = "webrtc.produceData"
	MsgSetPaused          = "webrtc.setPaused"
	MsgPing               = "ping"
	MsgTransportAnswer    = "webrtc.transport.answer"
	MsgTransportCandidate = "webrtc.transport.candidate"
)

// Outbound unicast message types that do not depend on the dialect.
const (
	MsgProducerID         = "webrtc.producer.id"
	MsgDataProducerID     = "webrtc.dataProducer.id"
	MsgConsumerCreate     = "webrtc.consumer.create"
	MsgDataConsumerCreate = "webrtc.dataConsumer.create"
	MsgTransportCreated   = "webrtc.transport.created"
	MsgTransportOffer     = "webrtc.transport.offer"
	MsgPong               = "pong"
)

// Inbound payloads.

type RoomRequest struct {
	URI RoomURI `json:"uri"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type NameRequest struct {
	Name string `json:"name"`
}

type HandleRequest struct {
	Handle string `json:"handle"`
}

type AvatarRequest struct {
	Avatar string `json:"avatar"`
}

type GroundedRequest struct {
	Grounded bool `json:"grounded"`
}

type TransportRequest struct {
	Kind TransportKind `json:"kind"`
	SDP  string        `json:"sdp,omitempty"`
}

type CandidateMessage struct {
	Kind          TransportKind `json:"kind"`
	Candidate     string        `json:"candidate"`
	SDPMid        *string       `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16       `json:"sdpMLineIndex,omitempty"`
}

type ProduceRequest struct {
	RtpParameters RtpParameters `json:"rtpParameters"`
}

type ProduceDataRequest struct {
	SctpStreamParameters SctpStreamParameters `json:"sctpStreamParameters"`
}

type PausedRequest struct {
	Paused bool `json:"paused"`
}

// Outbound payloads.

type PlayerJoin struct {
	Slot   Slot    `json:"slot"`
	Name   *string `json:"name,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
	Handle *string `json:"handle,omitempty"`
}

type PlayerLeave struct {
	Slot Slot `json:"slot"`
}

type PlayerGrounded struct {
	Slot     Slot `json:"slot"`
	Grounded bool `json:"grounded"`
}

type PlayerName struct {
	Slot Slot   `json:"slot"`
	Name string `json:"name"`
}

type PlayerHandle struct {
	Slot   Slot   `json:"slot"`
	Handle string `json:"handle"`
}

type PlayerAvatar struct {
	Slot   Slot   `json:"slot"`
	Avatar string `json:"avatar"`
}

type ChatMessage struct {
	Slot    Slot   `json:"slot"`
	Message string `json:"message"`
}

type Joined struct {
	Slot Slot `json:"slot"`
}

type ProducerID struct {
	ID string `json:"id"`
}

type ConsumerCreate struct {
	Slot          Slot          `json:"slot"`
	ConsumerID    string        `json:"consumerId"`
	ProducerID    string        `json:"producerId"`
	RtpParameters RtpParameters `json:"rtpParameters"`
}

type DataConsumerCreate struct {
	Slot                 Slot                 `json:"slot"`
	DataConsumerID       string               `json:"dataConsumerId"`
	DataProducerID       string               `json:"dataProducerId"`
	SctpStreamParameters SctpStreamParameters `json:"sctpStreamParameters"`
}

type TransportCreated struct {
	Kind       TransportKind `json:"kind"`
	ID         string        `json:"id"`
	ICEServers []string      `json:"iceServers,omitempty"`
}

type SessionDescription struct {
	Kind TransportKind `json:"kind"`
	SDP  string        `json:"sdp"`
}

// Encode builds a wire frame {type, data}.
func Encode(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Data: raw})
}

// Decode parses a wire frame envelope. The payload stays raw until
// the handler for the type decodes it with DecodeData.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

func DecodeData[T any](env Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 {
		return v, fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("%s: %w", env.Type, err)
	}
	return v, nil
}
