package broker

import (
	"context"
	"fmt"

	"github.com/yagim/sigsvc/internal/biz"
)

// dispatch routes one decoded signaling message to its handler.
func (b *Broker) dispatch(ctx context.Context, peer *biz.Peer, data []byte) error {
	reqType, err := biz.PeekType(data)
	if err != nil {
		return err
	}

	switch reqType {
	case biz.RequestSetPeerStatus:
		req, err := biz.ParseSetPeerStatusRequest(data)
		if err != nil {
			return err
		}
		return b.handleSetPeerStatus(peer, req)

	case biz.RequestList:
		return b.handleList(peer)

	case biz.RequestCreateSession:
		req, err := biz.ParseCreateSessionRequest(data)
		if err != nil {
			return err
		}
		return b.handleCreateSession(ctx, peer, req)

	case biz.RequestStartSession:
		req, err := biz.ParseStartSessionRequest(data)
		if err != nil {
			return err
		}
		return b.handleStartSession(ctx, req.SessionID, req.PeerID, peer)

	case biz.RequestPeer:
		env, err := biz.ParsePeerEnvelope(data)
		if err != nil {
			return err
		}
		return b.handlePeerMsg(ctx, peer, data, env)

	case biz.RequestEndSession:
		req, err := biz.ParseEndSessionRequest(data)
		if err != nil {
			return err
		}
		b.handleEndSession(ctx, peer, req)
		return nil

	case biz.RequestGetSessions:
		return b.handleGetSessions(ctx, peer)

	case biz.RequestGetSession:
		req, err := biz.ParseGetSessionRequest(data)
		if err != nil {
			return err
		}
		return b.handleGetSession(ctx, peer, req)

	case biz.RequestSubmitWebRtcStats:
		req, err := biz.ParseSubmitWebRtcStatsRequest(data)
		if err != nil {
			return err
		}
		return b.handleSubmitWebRtcStats(ctx, req)

	default:
		return biz.RequestValidation(fmt.Sprintf("unknown request type: %s", reqType))
	}
}
