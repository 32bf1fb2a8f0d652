package biz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// RequestType enumerates the signaling messages a peer (browser or
// streaming container) may send over its WebSocket connection.
type RequestType string

const (
	RequestUnknown           RequestType = "unknown"
	RequestSetPeerStatus     RequestType = "setPeerStatus"
	RequestList              RequestType = "list"
	RequestCreateSession     RequestType = "createSession"
	RequestStartSession      RequestType = "startSession"
	RequestSessionStarted    RequestType = "sessionStarted"
	RequestPeer              RequestType = "peer"
	RequestEndSession        RequestType = "endSession"
	RequestGetSessions       RequestType = "getSessions"
	RequestGetSession        RequestType = "getSession"
	RequestSubmitWebRtcStats RequestType = "submitWebRtcStats"
)

// ResponseType enumerates the messages the broker sends back to the
// original requester.
type ResponseType string

const (
	ResponseUnknown        ResponseType = "unknown"
	ResponseList            ResponseType = "list"
	ResponsePeerStatus      ResponseType = "peerStatusChanged"
	ResponseSessionCreated  ResponseType = "sessionCreated"
	ResponseWelcome         ResponseType = "welcome"
	ResponseError           ResponseType = "error"
	ResponseSessionsList    ResponseType = "sessionsList"
	ResponseSession          ResponseType = "session"
	ResponseSessionEnded    ResponseType = "sessionEnded"
)

type typeEnvelope struct {
	Type RequestType `json:"type"`
}

// PeekType extracts the "type" discriminator from a raw signaling message
// without validating the rest of its shape.
func PeekType(data []byte) (RequestType, error) {
	var env typeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", RequestValidation(fmt.Sprintf("malformed message: %v", err))
	}
	if env.Type == "" {
		return "", RequestValidation("missing type")
	}
	return env.Type, nil
}

// decodeStrict decodes data into v, rejecting unknown fields and trailing
// bytes after the JSON value, matching the teacher's wire-message idiom.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return RequestValidation(fmt.Sprintf("malformed message: %v", err))
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return RequestValidation("trailing data after message")
	}
	return nil
}

// SetPeerStatusRequest announces a peer's role (producer/consumer) and
// arbitrary metadata used for producer-consumer discovery.
type SetPeerStatusRequest struct {
	Type   RequestType    `json:"type"`
	Meta   map[string]any `json:"meta"`
	Roles  []string       `json:"roles"`
	PeerID *string        `json:"peerId,omitempty"`
}

func (r *SetPeerStatusRequest) Validate() error {
	if len(r.Roles) == 0 {
		return RequestValidation("roles is required")
	}
	return nil
}

func ParseSetPeerStatusRequest(data []byte) (*SetPeerStatusRequest, error) {
	var r SetPeerStatusRequest
	if err := decodeStrict(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateSessionRequest asks the broker to run a new app release and create
// a session for it.
type CreateSessionRequest struct {
	Type            RequestType `json:"type"`
	AppReleaseUUID  string      `json:"app_release_uuid"`
	PreferredDCs    []string    `json:"preferred_dcs,omitempty"`
}

func (r *CreateSessionRequest) Validate() error {
	if r.AppReleaseUUID == "" {
		return RequestValidation("app_release_uuid is required")
	}
	return nil
}

func ParseCreateSessionRequest(data []byte) (*CreateSessionRequest, error) {
	var r CreateSessionRequest
	if err := decodeStrict(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// StartSessionRequest asks the broker to pair a consumer with a producer
// for an existing session. It is also sent server to producer to kick off
// the WebRTC handshake.
type StartSessionRequest struct {
	Type      RequestType `json:"type"`
	PeerID    string      `json:"peerId"`
	SessionID string      `json:"sessionId"`
}

func (r *StartSessionRequest) Validate() error {
	if r.PeerID == "" || r.SessionID == "" {
		return RequestValidation("peerId and sessionId are required")
	}
	return nil
}

func ParseStartSessionRequest(data []byte) (*StartSessionRequest, error) {
	var r StartSessionRequest
	if err := decodeStrict(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// SessionStartedRequest is sent server to consumer once the producer has
// been notified that the session is starting.
type SessionStartedRequest struct {
	Type      RequestType `json:"type"`
	PeerID    string      `json:"peerId"`
	SessionID string      `json:"sessionId"`
}

func NewSessionStartedRequest(peerID, sessionID string) *SessionStartedRequest {
	return &SessionStartedRequest{Type: RequestSessionStarted, PeerID: peerID, SessionID: sessionID}
}

// EndSessionRequest stops and closes a session. It arrives from a peer
// directly (e.g. an "Exit Game" action) or is synthesized by the broker to
// notify the other peer.
type EndSessionRequest struct {
	Type      RequestType `json:"type"`
	SessionID string      `json:"sessionId"`
	Soft      bool        `json:"soft,omitempty"`
}

func (r *EndSessionRequest) Validate() error {
	if r.SessionID == "" {
		return RequestValidation("sessionId is required")
	}
	return nil
}

func ParseEndSessionRequest(data []byte) (*EndSessionRequest, error) {
	var r EndSessionRequest
	if err := decodeStrict(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func NewEndSessionRequest(sessionID string, soft bool) *EndSessionRequest {
	return &EndSessionRequest{Type: RequestEndSession, SessionID: sessionID, Soft: soft}
}

// PeerEnvelope is the shape common to all "peer" messages (SDP offers,
// answers, ICE candidates). The rest of the payload is opaque and is
// relayed byte-for-byte to the other side of the session, never
// re-serialized, so the broker only needs to read the sessionId out of it.
type PeerEnvelope struct {
	Type      RequestType `json:"type"`
	SessionID string      `json:"sessionId"`
}

func ParsePeerEnvelope(data []byte) (*PeerEnvelope, error) {
	var e PeerEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, RequestValidation(fmt.Sprintf("malformed peer message: %v", err))
	}
	if e.SessionID == "" {
		return nil, RequestValidation("sessionId is required")
	}
	return &e, nil
}

// GetSessionRequest fetches a single session by id.
type GetSessionRequest struct {
	Type      RequestType `json:"type"`
	SessionID string      `json:"sessionId"`
}

func (r *GetSessionRequest) Validate() error {
	if r.SessionID == "" {
		return RequestValidation("sessionId is required")
	}
	return nil
}

func ParseGetSessionRequest(data []byte) (*GetSessionRequest, error) {
	var r GetSessionRequest
	if err := decodeStrict(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// SubmitWebRtcStatsRequest forwards client-collected WebRTC stats (already
// JSON-encoded by the caller) to the upstream session service.
type SubmitWebRtcStatsRequest struct {
	Type      RequestType `json:"type"`
	SessionID string      `json:"sessionId"`
	Stats     string      `json:"stats"`
}

func (r *SubmitWebRtcStatsRequest) Validate() error {
	if r.SessionID == "" {
		return RequestValidation("sessionId is required")
	}
	return nil
}

func ParseSubmitWebRtcStatsRequest(data []byte) (*SubmitWebRtcStatsRequest, error) {
	var r SubmitWebRtcStatsRequest
	if err := decodeStrict(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// WelcomeResponse is the first message sent to every newly connected peer.
type WelcomeResponse struct {
	Type   ResponseType `json:"type"`
	PeerID string       `json:"peerId"`
}

func NewWelcomeResponse(peerID string) *WelcomeResponse {
	return &WelcomeResponse{Type: ResponseWelcome, PeerID: peerID}
}

// PeerStatusResponse echoes a setPeerStatus request back to the peer that
// sent it, and is also forwarded to a waiting consumer once its producer
// announces itself.
type PeerStatusResponse struct {
	Type   ResponseType   `json:"type"`
	Roles  []string       `json:"roles"`
	Meta   map[string]any `json:"meta"`
	PeerID string         `json:"peerId"`
}

func NewPeerStatusResponse(roles []string, meta map[string]any, peerID string) *PeerStatusResponse {
	return &PeerStatusResponse{Type: ResponsePeerStatus, Roles: roles, Meta: meta, PeerID: peerID}
}

// ListResponse answers a "list" request with the producer(s) currently
// known to be paired with the requesting consumer.
type ListResponse struct {
	Type      ResponseType    `json:"type"`
	Producers []ListProducer `json:"producers"`
}

type ListProducer struct {
	ID   string         `json:"id"`
	Meta map[string]any `json:"meta,omitempty"`
}

func NewListResponse(producers []ListProducer) *ListResponse {
	if producers == nil {
		producers = []ListProducer{}
	}
	return &ListResponse{Type: ResponseList, Producers: producers}
}

// CreateSessionResponse reports the id of the session just created.
type CreateSessionResponse struct {
	Type      ResponseType `json:"type"`
	SessionID string       `json:"session_id"`
}

func NewCreateSessionResponse(sessionID string) *CreateSessionResponse {
	return &CreateSessionResponse{Type: ResponseSessionCreated, SessionID: sessionID}
}

// EndSessionResponse confirms a session has ended, sent only to consumers
// that know how to react to it.
type EndSessionResponse struct {
	Type      ResponseType `json:"type"`
	SessionID string       `json:"session_id"`
}

func NewEndSessionResponse(sessionID string) *EndSessionResponse {
	return &EndSessionResponse{Type: ResponseSessionEnded, SessionID: sessionID}
}

// ErrorResponse reports a biz.Error back to the peer that triggered it.
type ErrorResponse struct {
	Type    ResponseType `json:"type"`
	Code    int          `json:"code"`
	Message string       `json:"message"`
}

func NewErrorResponse(err *Error) *ErrorResponse {
	return &ErrorResponse{Type: ResponseError, Code: err.Code, Message: err.Message}
}

// GetSessionsResponse answers "getSessions".
type GetSessionsResponse struct {
	Type     ResponseType `json:"type"`
	Sessions []Session    `json:"sessions"`
}

func NewGetSessionsResponse(sessions []Session) *GetSessionsResponse {
	if sessions == nil {
		sessions = []Session{}
	}
	return &GetSessionsResponse{Type: ResponseSessionsList, Sessions: sessions}
}

// GetSessionResponse answers "getSession".
type GetSessionResponse struct {
	Type    ResponseType `json:"type"`
	Session Session      `json:"session"`
}

func NewGetSessionResponse(session Session) *GetSessionResponse {
	return &GetSessionResponse{Type: ResponseSession, Session: session}
}
