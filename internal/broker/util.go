package broker

import "github.com/google/uuid"

func newPeerID() string {
	return uuid.NewString()
}
