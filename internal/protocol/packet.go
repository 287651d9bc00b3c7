// Package protocol implements the Protocol Dispatcher (spec §4.10): one
// version-parameterized service routing decoded MQTT packets to
// connection/session/security/subscribe/push operations, instead of three
// near-identical per-version service objects (spec §9 Design Notes /
// REDESIGN FLAGS: "avoid three parallel service objects, instead
// parameterize one service by version"). The dispatcher itself routes
// already-decoded packet values; the simplified wire codec that produces
// and consumes them (DecodePacket in decode.go, the encoders in encode.go)
// sits beside it in this package, the same boundary go.gazette.dev/core
// draws between its wire types and broker/*.go's handling logic.
package protocol

// Version is the negotiated MQTT protocol version.
type Version int

const (
	V3 Version = 3
	V4 Version = 4
	V5 Version = 5
)

// ReasonCode mirrors the MQTT 5 reason-code space; v3/v4 callers map these
// down to their own smaller connack/return-code spaces at the transport
// edge.
type ReasonCode int

const (
	Success                    ReasonCode = 0x00
	NoMatchingSubscribers      ReasonCode = 0x10
	UnspecifiedError           ReasonCode = 0x80
	MalformedPacket            ReasonCode = 0x81
	ProtocolError              ReasonCode = 0x82
	NotAuthorized              ReasonCode = 0x87
	UnsupportedProtocolVersion ReasonCode = 0x84
	PacketIdentifierInUse      ReasonCode = 0x91
	PacketIdentifierNotFound   ReasonCode = 0x92
	SubscriptionIdNotSupported ReasonCode = 0xA1
	TopicAliasInvalid          ReasonCode = 0x94
	QuotaExceeded              ReasonCode = 0x97
)

// UserProperty is one v5 User-Property key/value pair.
type UserProperty struct {
	Key   string
	Value string
}

// Properties holds the v5-only fields spec §4.10 lists as version-gated:
// User-Properties, Subscription-Identifier, Topic-Alias, Reason-String.
type Properties struct {
	UserProperties         []UserProperty
	SubscriptionIdentifier uint32 // 0 means absent; valid range 1..268435455
	TopicAlias             uint16
	ReasonString           string
	PayloadFormatIndicator *byte
	MessageExpiryInterval  *uint32
	ResponseTopic          string
	CorrelationData        []byte
	ContentType            string
}

// ConnectPacket is a decoded CONNECT (spec §4.10).
type ConnectPacket struct {
	Version        Version
	ClientID       string
	Username       string
	Password       string
	CleanStart     bool
	KeepAliveSec   uint16
	SessionExpiry  uint32
	HasLastWill    bool
	WillTopic      string
	WillPayload    []byte
	WillQoS        int
	WillRetain     bool
	WillDelay      uint32
	Properties     Properties
}

// ConnAckPacket is the CONNACK response.
type ConnAckPacket struct {
	SessionPresent bool
	Reason         ReasonCode
	Properties     Properties
}

// PublishPacket is a decoded PUBLISH.
type PublishPacket struct {
	Topic      string
	Payload    []byte
	QoS        int
	Retain     bool
	Dup        bool
	PacketID   uint16
	Properties Properties
}

type PubAckPacket struct {
	PacketID uint16
	Reason   ReasonCode
}

type PubRecPacket struct {
	PacketID uint16
	Reason   ReasonCode
}

type PubRelPacket struct {
	PacketID uint16
	Reason   ReasonCode
}

type PubCompPacket struct {
	PacketID uint16
	Reason   ReasonCode
}

// SubscriptionRequest is one filter entry within a SUBSCRIBE packet,
// carrying the v5-only Subscription Options spec §4.10 lists (no-local,
// retain-as-published, retain-handling).
type SubscriptionRequest struct {
	Filter            string
	QoS               int
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    int // 0=send, 1=send-if-new, 2=never
}

type SubscribePacket struct {
	PacketID       uint16
	Subscriptions  []SubscriptionRequest
	Properties     Properties
}

type SubAckPacket struct {
	PacketID uint16
	Reasons  []ReasonCode
}

type UnsubscribePacket struct {
	PacketID uint16
	Filters  []string
}

type UnsubAckPacket struct {
	PacketID uint16
	Reasons  []ReasonCode
}

type PingReqPacket struct{}
type PingRespPacket struct{}

type DisconnectPacket struct {
	Reason     ReasonCode
	Properties Properties
}
