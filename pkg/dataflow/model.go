package dataflow

import (
	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/consent"
)

const (
	HeaderHIUID = "X-HIU-ID"
	HeaderHIPID = "X-HIP-ID"

	SessionRequested    = "REQUESTED"
	SessionAcknowledged = "ACKNOWLEDGED"
	SessionErrored      = "ERRORED"
)

type ConsentRef struct {
	ID string `json:"id" validate:"required"`
}

type DHPublicKey struct {
	Expiry     string `json:"expiry"`
	Parameters string `json:"parameters"`
	KeyValue   string `json:"keyValue"`
}

// KeyMaterial is forwarded to the HIP untouched.
type KeyMaterial struct {
	CryptoAlg   string      `json:"cryptoAlg"`
	Curve       string      `json:"curve"`
	DHPublicKey DHPublicKey `json:"dhPublicKey"`
	Nonce       string      `json:"nonce"`
}

// Request is an HIU's request to pull data under a consent. A nil DateRange
// means the whole granted range.
type Request struct {
	Consent     ConsentRef         `json:"consent" validate:"required"`
	DateRange   *consent.DateRange `json:"dateRange,omitempty"`
	DataPushURL string             `json:"dataPushUrl" validate:"required,url"`
	KeyMaterial KeyMaterial        `json:"keyMaterial"`
}

// GatewayRequest is the Gateway-relayed form of Request.
type GatewayRequest struct {
	RequestID string       `json:"requestId" validate:"required"`
	Timestamp consent.Time `json:"timestamp"`
	HIRequest Request      `json:"hiRequest" validate:"required"`
}

type TransactionStatus struct {
	TransactionID string `json:"transactionId"`
	SessionStatus string `json:"sessionStatus"`
}

type RespRef struct {
	RequestID string `json:"requestId" validate:"required"`
}

// OnRequest is the callback body on the cm/on-request route toward the
// Gateway, and the HIP's acknowledgement coming back on on-request.
// Exactly one of HIRequest and Error is set.
type OnRequest struct {
	RequestID string             `json:"requestId" validate:"required"`
	Timestamp consent.Time       `json:"timestamp"`
	HIRequest *TransactionStatus `json:"hiRequest,omitempty"`
	Error     *apperr.Body       `json:"error,omitempty"`
	Resp      RespRef            `json:"resp"`
}

// Message is what the request path hands to the HIP dispatcher.
type Message struct {
	TransactionID   string  `json:"transactionId"`
	HIPID           string  `json:"hipId"`
	DataFlowRequest Request `json:"dataFlowRequest"`
}

type HIRequest struct {
	Consent     ConsentRef        `json:"consent"`
	DataPushURL string            `json:"dataPushUrl"`
	DateRange   consent.DateRange `json:"dateRange"`
	KeyMaterial KeyMaterial       `json:"keyMaterial"`
}

// DataRequest is sent to the HIP through the Gateway.
type DataRequest struct {
	TransactionID string       `json:"transactionId"`
	RequestID     string       `json:"requestId"`
	Timestamp     consent.Time `json:"timestamp"`
	HIRequest     HIRequest    `json:"hiRequest"`
}

type Notifier struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

type StatusResponse struct {
	CareContextReference string `json:"careContextReference"`
	HIStatus             string `json:"hiStatus"`
	Description          string `json:"description,omitempty"`
}

type StatusNotification struct {
	SessionStatus   string           `json:"sessionStatus"`
	HIPID           string           `json:"hipId"`
	StatusResponses []StatusResponse `json:"statusResponses,omitempty"`
}

type Notification struct {
	ConsentID          string             `json:"consentId" validate:"required"`
	TransactionID      string             `json:"transactionId" validate:"required"`
	DoneAt             consent.Time       `json:"doneAt"`
	Notifier           Notifier           `json:"notifier"`
	StatusNotification StatusNotification `json:"statusNotification"`
}

// NotificationRequest reports how a transfer went, sent by an HIP or HIU.
type NotificationRequest struct {
	RequestID    string       `json:"requestId" validate:"required"`
	Timestamp    consent.Time `json:"timestamp"`
	Notification Notification `json:"notification" validate:"required"`
}
