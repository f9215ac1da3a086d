package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/accesswatch/proto"
)

// ClientMetadata describes one dashboard connected to /ws.
type ClientMetadata struct {
	Id          string
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time
}

type Client interface {
	Send(proto.Message) error
	Meta() *ClientMetadata
	Close() error
}

func generateClientId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
