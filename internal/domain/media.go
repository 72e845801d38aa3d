package domain

import (
	"fmt"
	"strings"
)

type TransportKind string

const (
	TransportProducer TransportKind = "producer"
	TransportConsumer TransportKind = "consumer"
)

func ParseTransportKind(s string) (TransportKind, error) {
	switch k := TransportKind(s); k {
	case TransportProducer, TransportConsumer:
		return k, nil
	}
	return "", fmt.Errorf("unknown transport kind %q", s)
}

type RtpCodec struct {
	MimeType    string `json:"mimeType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	SDPFmtpLine string `json:"sdpFmtpLine,omitempty"`
	PayloadType uint8  `json:"payloadType,omitempty"`
}

// RtpCapabilities are the codecs a client is able to receive.
type RtpCapabilities struct {
	Codecs []RtpCodec `json:"codecs"`
}

func (c RtpCapabilities) Supports(mimeType string) bool {
	for _, codec := range c.Codecs {
		if strings.EqualFold(codec.MimeType, mimeType) {
			return true
		}
	}
	return false
}

// RtpParameters describe one media stream. Clients identify an incoming
// producer stream by MID or TrackID; consumers are announced with the
// TrackID/StreamID the client will see after renegotiation.
type RtpParameters struct {
	MID      string     `json:"mid,omitempty"`
	TrackID  string     `json:"trackId,omitempty"`
	StreamID string     `json:"streamId,omitempty"`
	Codecs   []RtpCodec `json:"codecs,omitempty"`
}

// SctpStreamParameters describe one data channel. Ordered=false together
// with MaxRetransmits=0 gives the unreliable channel.
type SctpStreamParameters struct {
	StreamID       *uint16 `json:"streamId,omitempty"`
	Label          string  `json:"label"`
	Ordered        *bool   `json:"ordered,omitempty"`
	MaxRetransmits *uint16 `json:"maxRetransmits,omitempty"`
}
