package dcap

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DiscoveryRecord is a semantic_discover advertisement of one tool.
type DiscoveryRecord struct {
	V           int       `json:"v"`
	T           string    `json:"t"`
	TS          int64     `json:"ts"`
	SID         string    `json:"sid"`
	ServerName  string    `json:"server_name"`
	Tool        string    `json:"tool"`
	Description string    `json:"description"`
	Pricing     any       `json:"pricing,omitempty"`
	Connector   Connector `json:"connector"`
}

// Connector tells discovery listeners how to reach and pay this server.
type Connector struct {
	Transport ConnectorTransport `json:"transport"`
	Auth      ConnectorAuth      `json:"auth"`
	MCP       ConnectorMCP       `json:"mcp"`
}

type ConnectorTransport struct {
	Type     string `json:"type"` // "sse"
	Endpoint string `json:"endpoint"`
}

// ConnectorAuth is "none" for free catalogues and "x402" with per-rail
// details when a payment gate is enabled.
type ConnectorAuth struct {
	Type    string       `json:"type"`
	Details []RailDetail `json:"details,omitempty"`
}

type RailDetail struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
	Asset   string `json:"asset"`
	PayTo   string `json:"payTo"`
}

type ConnectorMCP struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerName      string `json:"serverName"`
	ServerVersion   string `json:"serverVersion"`
}

// CatalogueFunc produces the current discovery records. Re-evaluated on
// every broadcast so advertisement follows configuration.
type CatalogueFunc func() []DiscoveryRecord

// EmitDiscovery queues one semantic_discover record.
func (e *Emitter) EmitDiscovery(rec DiscoveryRecord) {
	rec.T = "semantic_discover"
	if rec.V == 0 {
		rec.V = perfVersion
	}
	if rec.TS == 0 {
		rec.TS = time.Now().Unix()
	}
	if rec.SID == "" {
		rec.SID = e.cfg.ServerID
	}
	if rec.ServerName == "" {
		rec.ServerName = e.cfg.ServerName
	}
	e.emitJSON("semantic_discover", rec)
}

// defaultDiscoverInterval backs StartDiscovery when the caller passes a
// non-positive interval, which would otherwise panic the ticker.
const defaultDiscoverInterval = 5 * time.Minute

// StartDiscovery broadcasts the catalogue once immediately and then on every
// interval tick until ctx is cancelled. Non-positive intervals fall back to
// the five-minute default.
func (e *Emitter) StartDiscovery(ctx context.Context, interval time.Duration, catalogue CatalogueFunc) {
	if interval <= 0 {
		interval = defaultDiscoverInterval
	}
	broadcast := func() {
		records := catalogue()
		for _, rec := range records {
			e.EmitDiscovery(rec)
		}
		e.logger.Debug("dcap discovery broadcast", zap.Int("tools", len(records)))
	}

	go func() {
		broadcast()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				broadcast()
			}
		}
	}()
}
