// Package wire defines the closed set of wire-message schemas exchanged
// between components, plus the single serializer used to encode/decode
// all of them. No component builds ad-hoc JSON maps; every message that
// crosses a process boundary has a named Go type here.
package wire

import "encoding/json"

// OpKind is one of the three client-facing operations.
type OpKind string

const (
	OpPrestar  OpKind = "PRESTAR"
	OpRenovar  OpKind = "RENOVAR"
	OpDevolver OpKind = "DEVOLVER"
)

// ReplyStatus is the status field of a CCReply.
type ReplyStatus string

const (
	StatusRecibido ReplyStatus = "RECIBIDO"
	StatusOK       ReplyStatus = "OK"
	StatusError    ReplyStatus = "ERROR"
)

// ClientRequest is what a client sends to the Central Coordinator.
type ClientRequest struct {
	ID            string `json:"id"`
	SiteID        string `json:"siteId"`
	UserID        string `json:"userId"`
	Op            OpKind `json:"op"`
	LibroCodigo   string `json:"libroCodigo"`
	TimestampMs   int64  `json:"timestamp"`
}

// CCReply is what the Central Coordinator sends back to a client.
type CCReply struct {
	ID      string      `json:"id"`
	Status  ReplyStatus `json:"status"`
	Reason  string      `json:"reason,omitempty"`
	DueDate string      `json:"dueDate,omitempty"`
}

// ActorEnvelope is the payload published on the RENOVACION/DEVOLUCION topics.
type ActorEnvelope struct {
	ID          string `json:"id"`
	SiteID      string `json:"siteId"`
	UserID      string `json:"userId"`
	LibroCodigo string `json:"libroCodigo"`
	Op          OpKind `json:"op"`
	DueDateNew  string `json:"dueDateNew,omitempty"`
}

// SMMethod names the three Storage Manager operations callable over SM-REP.
type SMMethod string

const (
	MethodCheckAndLoan SMMethod = "checkAndLoan"
	MethodRenovar      SMMethod = "renovar"
	MethodDevolver     SMMethod = "devolver"
)

// SMRequest is the envelope an actor sends to the Storage Manager.
type SMRequest struct {
	Method  SMMethod       `json:"method"`
	Payload SMRequestBody  `json:"payload"`
}

// SMRequestBody carries the union of fields any SM method needs. Unused
// fields are simply left zero-valued; SM dispatches on Method, not on
// which fields are present.
type SMRequestBody struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	UserID      string `json:"userId"`
	DueDateNew  string `json:"dueDateNew,omitempty"`
}

// SMMetadata is the optional result payload of a successful SM call.
type SMMetadata struct {
	DueDate  string `json:"dueDate,omitempty"`
	Renewals int    `json:"renewals,omitempty"`
}

// SMReply is what the Storage Manager returns for every method.
type SMReply struct {
	OK       bool        `json:"ok"`
	Reason   string      `json:"reason,omitempty"`
	Metadata *SMMetadata `json:"metadata,omitempty"`
}

// LoanActorRequest is what CC sends to the Loan actor over LOAN-REP.
type LoanActorRequest struct {
	ID          string `json:"id"`
	LibroCodigo string `json:"libroCodigo"`
	UserID      string `json:"userId"`
}

// LoanActorReply is the Loan actor's reply back to CC.
type LoanActorReply struct {
	OK       bool        `json:"ok"`
	Reason   string      `json:"reason,omitempty"`
	Metadata *SMMetadata `json:"metadata,omitempty"`
}

// OpLogEntry is one append-only journal record, and also the shape
// published to the peer site by the Replicator (augmented with
// SourceNode/ReplicationTs there).
type OpLogEntry struct {
	ID             string `json:"id"`
	Op             OpKind `json:"op"`
	Code           string `json:"code"`
	UserID         string `json:"userId"`
	DueDateNew     string `json:"dueDateNew,omitempty"`
	TsMs           int64  `json:"ts"`
	SourceNode     string `json:"sourceNode,omitempty"`
	Remote         bool   `json:"remote,omitempty"`
	ReplicationTs  int64  `json:"replicationTs,omitempty"`
}

// HeartbeatMessage is published periodically on HB-PUB.
type HeartbeatMessage struct {
	Node     string `json:"node"`
	TsMs     int64  `json:"ts"`
	Status   string `json:"status"`
	Sequence uint64 `json:"sequence"`
}

// HealthRequest is sent to HEALTH-REP.
type HealthRequest struct {
	Status string `json:"status"`
}

// HealthReply is HEALTH-REP's response. UptimeSeconds is an additive
// field beyond spec.md's documented schema (see SPEC_FULL.md §3).
type HealthReply struct {
	Status         string `json:"status"`
	Node           string `json:"node"`
	TsMs           int64  `json:"ts"`
	HeartbeatsSent uint64 `json:"heartbeatsSent"`
	ProbesHandled  uint64 `json:"probesHandled"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
}

// Marshal and Unmarshal are the single serializer entry points: every
// component encodes/decodes wire types through these two functions so
// the encoding is never duplicated ad hoc at call sites.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
