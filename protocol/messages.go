package protocol

import (
	"fmt"
	"strings"

	"github.com/tilecraft/tilestream/model"
)

// Message type tags. Every frame on the wire is a JSON object carrying a
// "type" field plus the fields of that message.
const (
	// Client to server.
	TypeUpdateView        = "update_view"
	TypeSubscribeSource   = "subscribe_source"
	TypeUnsubscribeSource = "unsubscribe_source"
	TypeCancelTiles       = "cancel_tiles"
	TypeAckTiles          = "ack_tiles"
	TypeSetBudget         = "set_budget"
	TypePing              = "ping"

	// Server to client.
	TypeHello        = "hello"
	TypeTileData     = "tile_data"
	TypeTileNotFound = "tile_not_found"
	TypeTileError    = "tile_error"
	TypeViewAck      = "view_ack"
	TypeViewProgress = "view_progress"
	TypeViewComplete = "view_complete"
	TypeSourceStatus = "source_status"
	TypePong         = "pong"
	TypeError        = "error"
)

// TileID names one tile of one source, "source/z/x/y". It is the handle
// clients use to cancel and acknowledge deliveries.
type TileID string

// NewTileID builds the canonical tile id.
func NewTileID(sourceID string, coord model.TileCoord) TileID {
	return TileID(sourceID + "/" + coord.String())
}

// Parse splits the id back into source and coordinate.
func (id TileID) Parse() (sourceID string, coord model.TileCoord, err error) {
	s := string(id)
	for i := 0; i < 3; i++ {
		j := strings.LastIndexByte(s, '/')
		if j < 0 {
			return "", model.TileCoord{}, fmt.Errorf("invalid tile id %q", id)
		}
		s = s[:j]
	}
	coord, err = model.ParseTileCoord(string(id)[len(s)+1:])
	if err != nil {
		return "", model.TileCoord{}, fmt.Errorf("invalid tile id %q: %w", id, err)
	}
	return s, coord, nil
}

// SessionBudget is the client-controlled delivery limit.
type SessionBudget struct {
	// MaxBytesPerSecond caps outbound payload bandwidth. Zero means
	// unlimited.
	MaxBytesPerSecond uint64 `json:"max_bytes_per_second,omitempty"`

	// MaxTilesInFlight caps unacknowledged deliveries. Zero means
	// unlimited.
	MaxTilesInFlight int `json:"max_tiles_in_flight,omitempty"`
}

// ClientMessage is one inbound frame. Type selects which fields are
// meaningful.
type ClientMessage struct {
	Type string `json:"type"`

	// update_view
	View *ViewState `json:"view,omitempty"`

	// subscribe_source, unsubscribe_source
	SourceID string `json:"source_id,omitempty"`

	// cancel_tiles, ack_tiles
	TileIDs []TileID `json:"tile_ids,omitempty"`

	// set_budget
	Budget *SessionBudget `json:"budget,omitempty"`

	// ping
	Seq uint64 `json:"seq,omitempty"`
}

// ServerMessage is one outbound frame. Type selects which fields are
// meaningful.
type ServerMessage struct {
	Type string `json:"type"`

	// hello
	SessionID     string   `json:"session_id,omitempty"`
	ServerVersion string   `json:"server_version,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`

	// tile_data, tile_not_found, tile_error
	ViewID   ViewID           `json:"view_id,omitempty"`
	TileID   TileID           `json:"tile_id,omitempty"`
	Coord    *model.TileCoord `json:"coord,omitempty"`
	SourceID string           `json:"source_id,omitempty"`
	Format   string           `json:"format,omitempty"`
	// Data holds the (possibly compressed) payload, base64 in JSON.
	Data []byte `json:"data,omitempty"`
	// Encoding names the payload compression ("zstd", "gzip"), empty for
	// raw bytes.
	Encoding  string `json:"encoding,omitempty"`
	SizeBytes uint32 `json:"size_bytes,omitempty"`

	// tile_error, error
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// view_ack, view_progress, view_complete
	TilesQueued uint32 `json:"tiles_queued,omitempty"`
	TilesSent   uint32 `json:"tiles_sent,omitempty"`
	TilesTotal  uint32 `json:"tiles_total,omitempty"`

	// source_status
	Status    string `json:"status,omitempty"`
	TileCount int    `json:"tile_count,omitempty"`

	// pong
	Seq uint64 `json:"seq,omitempty"`
}
