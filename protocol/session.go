package protocol

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tilecraft/tilestream/model"
	"github.com/tilecraft/tilestream/source"
)

// ServerVersion is reported in the hello frame.
const ServerVersion = "1.0.0"

// Capabilities advertised in the hello frame.
var Capabilities = []string{"view_streaming", "tile_priority", "subscriptions", "backpressure"}

// SessionConfig bounds one streaming session.
type SessionConfig struct {
	// MaxTilesPerView caps the tiles scheduled per view update.
	MaxTilesPerView int

	// Budget is the initial delivery budget; clients adjust it with
	// set_budget.
	Budget SessionBudget

	// Compression selects the tile payload encoding (CompressionZstd,
	// CompressionGzip, CompressionNone).
	Compression string

	// MinViewInterval drops view updates arriving faster than this.
	// Enforced at the transport boundary, never inside scheduling.
	MinViewInterval time.Duration

	// Priority converts view geometry into tile priorities.
	Priority PriorityPolicy
}

// DefaultSessionConfig returns the stock limits.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxTilesPerView: 256,
		Budget:          SessionBudget{MaxTilesInFlight: 32},
		Compression:     CompressionZstd,
		MinViewInterval: 50 * time.Millisecond,
		Priority:        DefaultPriorityPolicy(),
	}
}

// heldTile is a ready tile waiting for an in-flight slot.
type heldTile struct {
	id       TileID
	sourceID string
	coord    model.TileCoord
	viewID   ViewID
	priority uint32
	seq      uint64
}

func compareHeld(a, b heldTile) int {
	switch {
	case a.priority != b.priority:
		if a.priority < b.priority {
			return -1
		}
		return 1
	case a.sourceID != b.sourceID:
		if a.sourceID < b.sourceID {
			return -1
		}
		return 1
	}
	if c := a.coord.Compare(b.coord); c != 0 {
		return c
	}
	if a.seq != b.seq {
		if a.seq < b.seq {
			return -1
		}
		return 1
	}
	return 0
}

// Session is the per-connection delivery state machine. It is
// transport-agnostic: HandleMessage consumes one inbound frame and returns
// the outbound frames it produced, in order. Not safe for concurrent use;
// the owning connection serializes calls.
type Session struct {
	id       string
	config   SessionConfig
	registry *Registry
	logger   *slog.Logger

	subscriptions map[string]struct{}
	inflight      map[TileID]ViewID
	held          []heldTile

	budget  SessionBudget
	limiter *rate.Limiter

	lastViewID ViewID
	seq        uint64
}

// NewSession creates a session over the registry. A nil logger discards
// logs.
func NewSession(registry *Registry, config SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.MaxTilesPerView <= 0 {
		config.MaxTilesPerView = DefaultSessionConfig().MaxTilesPerView
	}
	if config.Priority == (PriorityPolicy{}) {
		config.Priority = DefaultPriorityPolicy()
	}
	s := &Session{
		id:            uuid.NewString(),
		config:        config,
		registry:      registry,
		logger:        logger,
		subscriptions: make(map[string]struct{}),
		inflight:      make(map[TileID]ViewID),
	}
	s.setBudget(config.Budget)
	return s
}

// ID returns the session identifier sent in the hello frame.
func (s *Session) ID() string { return s.id }

// Hello returns the frame sent once on connect.
func (s *Session) Hello() ServerMessage {
	return ServerMessage{
		Type:          TypeHello,
		SessionID:     s.id,
		ServerVersion: ServerVersion,
		Capabilities:  Capabilities,
	}
}

// InFlight returns the number of unacknowledged deliveries.
func (s *Session) InFlight() int { return len(s.inflight) }

// Held returns the number of ready tiles waiting for an in-flight slot.
func (s *Session) Held() int { return len(s.held) }

// WaitBandwidth blocks until the byte budget admits n more payload bytes.
// Called by the transport before writing a tile_data frame; scheduling
// decisions never depend on it.
func (s *Session) WaitBandwidth(ctx context.Context, n int) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.WaitN(ctx, n)
}

func (s *Session) setBudget(b SessionBudget) {
	s.budget = b
	if b.MaxBytesPerSecond == 0 {
		s.limiter = nil
		return
	}
	burst := int(b.MaxBytesPerSecond)
	s.limiter = rate.NewLimiter(rate.Limit(b.MaxBytesPerSecond), burst)
}

// HandleMessage processes one inbound frame and returns the outbound
// frames it produced.
func (s *Session) HandleMessage(ctx context.Context, msg ClientMessage) []ServerMessage {
	switch msg.Type {
	case TypePing:
		return []ServerMessage{{Type: TypePong, Seq: msg.Seq}}

	case TypeSubscribeSource:
		return s.handleSubscribe(msg.SourceID)

	case TypeUnsubscribeSource:
		delete(s.subscriptions, msg.SourceID)
		return []ServerMessage{{
			Type:     TypeSourceStatus,
			SourceID: msg.SourceID,
			Status:   "unsubscribed",
		}}

	case TypeSetBudget:
		if msg.Budget == nil {
			return []ServerMessage{errorFrame("bad_request", "set_budget without budget")}
		}
		s.setBudget(*msg.Budget)
		return s.releaseHeld(ctx)

	case TypeCancelTiles:
		s.cancelTiles(msg.TileIDs)
		return nil

	case TypeAckTiles:
		for _, id := range msg.TileIDs {
			delete(s.inflight, id)
		}
		return s.releaseHeld(ctx)

	case TypeUpdateView:
		if msg.View == nil {
			return []ServerMessage{errorFrame("bad_request", "update_view without view")}
		}
		return s.handleViewUpdate(ctx, *msg.View)

	default:
		return []ServerMessage{errorFrame("unknown_type", "unknown message type "+msg.Type)}
	}
}

func (s *Session) handleSubscribe(sourceID string) []ServerMessage {
	src, ok := s.registry.Get(sourceID)
	if !ok {
		return []ServerMessage{{
			Type:     TypeSourceStatus,
			SourceID: sourceID,
			Status:   "unknown",
		}}
	}
	s.subscriptions[sourceID] = struct{}{}

	status := ServerMessage{
		Type:     TypeSourceStatus,
		SourceID: sourceID,
		Status:   "subscribed",
	}
	type counter interface{ Len() int }
	if c, ok := src.(counter); ok {
		status.TileCount = c.Len()
	}
	return []ServerMessage{status}
}

// cancelTiles drops the named tiles from the held queue in place,
// preserving the relative order of the remainder, and releases their
// in-flight slots.
func (s *Session) cancelTiles(ids []TileID) {
	drop := make(map[TileID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
		delete(s.inflight, id)
	}
	s.held = slices.DeleteFunc(s.held, func(h heldTile) bool {
		_, ok := drop[h.id]
		return ok
	})
}

// layersFor picks the sources a view update targets: the view's explicit
// layers, else the session's subscriptions, else every registered source.
// Always in ascending id order.
func (s *Session) layersFor(view ViewState) []string {
	if len(view.Layers) > 0 {
		layers := make([]string, 0, len(view.Layers))
		for _, id := range view.Layers {
			if _, ok := s.registry.Get(id); ok {
				layers = append(layers, id)
			}
		}
		slices.Sort(layers)
		return slices.Compact(layers)
	}
	if len(s.subscriptions) > 0 {
		layers := make([]string, 0, len(s.subscriptions))
		for id := range s.subscriptions {
			layers = append(layers, id)
		}
		slices.Sort(layers)
		return layers
	}
	return s.registry.List()
}

func (s *Session) handleViewUpdate(ctx context.Context, view ViewState) []ServerMessage {
	view = view.withDefaults()

	// Stale snapshot: a newer view was already processed.
	if view.ViewID < s.lastViewID {
		return nil
	}
	s.lastViewID = view.ViewID

	// A new view supersedes tiles still waiting from older ones.
	s.held = s.held[:0]

	estZoom := view.EstimatedZoom()
	minZoom := uint8(0)
	if estZoom > 2 {
		minZoom = estZoom - 2
	}
	maxZoom := min(estZoom, view.MaxZoom)

	var candidates []heldTile
	for _, layer := range s.layersFor(view) {
		for z := minZoom; z <= maxZoom; z++ {
			for _, coord := range VisibleTiles(view, z) {
				id := NewTileID(layer, coord)
				if _, ok := s.inflight[id]; ok {
					continue
				}
				s.seq++
				candidates = append(candidates, heldTile{
					id:       id,
					sourceID: layer,
					coord:    coord,
					viewID:   view.ViewID,
					priority: s.config.Priority.TilePriority(view, coord),
					seq:      s.seq,
				})
			}
		}
	}
	slices.SortFunc(candidates, compareHeld)
	if len(candidates) > s.config.MaxTilesPerView {
		candidates = candidates[:s.config.MaxTilesPerView]
	}

	out := []ServerMessage{{
		Type:        TypeViewAck,
		ViewID:      view.ViewID,
		TilesQueued: uint32(len(candidates)),
	}}

	s.held = append(s.held, candidates...)
	out = append(out, s.releaseHeld(ctx)...)

	sent := uint32(len(candidates) - len(s.held))
	out = append(out, ServerMessage{
		Type:       TypeViewProgress,
		ViewID:     view.ViewID,
		TilesSent:  sent,
		TilesTotal: uint32(len(candidates)),
	})
	if len(s.held) == 0 {
		out = append(out, ServerMessage{Type: TypeViewComplete, ViewID: view.ViewID})
	}
	return out
}

// hasSlot reports whether another delivery fits the in-flight budget.
func (s *Session) hasSlot() bool {
	return s.budget.MaxTilesInFlight <= 0 || len(s.inflight) < s.budget.MaxTilesInFlight
}

// releaseHeld delivers held tiles, highest priority first, while in-flight
// slots are available.
func (s *Session) releaseHeld(ctx context.Context) []ServerMessage {
	var out []ServerMessage
	for len(s.held) > 0 && s.hasSlot() {
		h := s.held[0]
		s.held = s.held[1:]
		if msg, delivered := s.deliver(ctx, h); msg != nil {
			out = append(out, *msg)
			if delivered {
				s.inflight[h.id] = h.viewID
			}
		}
	}
	return out
}

// deliver fetches one tile and builds its outbound frame. The bool reports
// whether a payload was actually sent (and so occupies an in-flight slot).
func (s *Session) deliver(ctx context.Context, h heldTile) (*ServerMessage, bool) {
	src, ok := s.registry.Get(h.sourceID)
	if !ok {
		return &ServerMessage{
			Type:     TypeTileNotFound,
			ViewID:   h.viewID,
			TileID:   h.id,
			Coord:    &h.coord,
			SourceID: h.sourceID,
		}, false
	}

	data, err := src.GetTile(ctx, h.coord)
	switch {
	case errors.Is(err, source.ErrNotFound):
		return &ServerMessage{
			Type:     TypeTileNotFound,
			ViewID:   h.viewID,
			TileID:   h.id,
			Coord:    &h.coord,
			SourceID: h.sourceID,
		}, false
	case err != nil:
		s.logger.Warn("tile fetch failed",
			slog.String("tile", string(h.id)),
			slog.String("error", err.Error()))
		return &ServerMessage{
			Type:         TypeTileError,
			ViewID:       h.viewID,
			TileID:       h.id,
			Coord:        &h.coord,
			SourceID:     h.sourceID,
			ErrorCode:    "fetch_failed",
			ErrorMessage: err.Error(),
		}, false
	}

	payload, encoding, err := encodePayload(data, s.config.Compression)
	if err != nil {
		return &ServerMessage{
			Type:         TypeTileError,
			ViewID:       h.viewID,
			TileID:       h.id,
			Coord:        &h.coord,
			SourceID:     h.sourceID,
			ErrorCode:    "encode_failed",
			ErrorMessage: err.Error(),
		}, false
	}

	return &ServerMessage{
		Type:      TypeTileData,
		ViewID:    h.viewID,
		TileID:    h.id,
		Coord:     &h.coord,
		SourceID:  h.sourceID,
		Format:    src.Metadata().Format.String(),
		Data:      payload,
		Encoding:  encoding,
		SizeBytes: uint32(len(data)),
	}, true
}

func errorFrame(code, message string) ServerMessage {
	return ServerMessage{Type: TypeError, ErrorCode: code, ErrorMessage: message}
}
