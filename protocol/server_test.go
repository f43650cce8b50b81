package protocol

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilecraft/tilestream/codec"
)

func dialTestServer(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg ServerMessage
	require.NoError(t, codec.Default.Unmarshal(data, &msg))
	return msg
}

func writeFrame(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, err := codec.Default.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestServerSession(t *testing.T) {
	reg := NewRegistry()
	reg.Register("base", rootTileSource("hello-tile"))

	config := DefaultSessionConfig()
	config.Compression = CompressionNone
	config.MinViewInterval = 0

	conn := dialTestServer(t, NewServer(reg, config, nil, nil))

	hello := readFrame(t, conn)
	assert.Equal(t, TypeHello, hello.Type)
	assert.NotEmpty(t, hello.SessionID)
	assert.Equal(t, ServerVersion, hello.ServerVersion)

	writeFrame(t, conn, ClientMessage{Type: TypePing, Seq: 7})
	pong := readFrame(t, conn)
	assert.Equal(t, TypePong, pong.Type)
	assert.Equal(t, uint64(7), pong.Seq)

	writeFrame(t, conn, ClientMessage{Type: TypeUpdateView, View: globalView(1)})

	ack := readFrame(t, conn)
	assert.Equal(t, TypeViewAck, ack.Type)
	assert.Equal(t, uint32(1), ack.TilesQueued)

	tile := readFrame(t, conn)
	assert.Equal(t, TypeTileData, tile.Type)
	assert.Equal(t, TileID("base/0/0/0"), tile.TileID)
	assert.Equal(t, []byte("hello-tile"), tile.Data)

	progress := readFrame(t, conn)
	assert.Equal(t, TypeViewProgress, progress.Type)

	complete := readFrame(t, conn)
	assert.Equal(t, TypeViewComplete, complete.Type)
}

func TestServerRejectsMalformedFrame(t *testing.T) {
	conn := dialTestServer(t, NewServer(NewRegistry(), DefaultSessionConfig(), nil, nil))

	hello := readFrame(t, conn)
	require.Equal(t, TypeHello, hello.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errFrame := readFrame(t, conn)
	assert.Equal(t, TypeError, errFrame.Type)
	assert.Equal(t, "parse_error", errFrame.ErrorCode)
}

func TestServerCompressedTiles(t *testing.T) {
	reg := NewRegistry()
	big := strings.Repeat("terrain-sample-", 100)
	reg.Register("base", rootTileSource(big))

	config := DefaultSessionConfig()
	config.MinViewInterval = 0

	conn := dialTestServer(t, NewServer(reg, config, nil, nil))
	readFrame(t, conn) // hello

	writeFrame(t, conn, ClientMessage{Type: TypeUpdateView, View: globalView(1)})
	readFrame(t, conn) // view_ack

	tile := readFrame(t, conn)
	require.Equal(t, TypeTileData, tile.Type)
	assert.Equal(t, CompressionZstd, tile.Encoding)
	assert.Equal(t, uint32(len(big)), tile.SizeBytes)

	restored, err := DecodePayload(tile.Data, tile.Encoding)
	require.NoError(t, err)
	assert.Equal(t, []byte(big), restored)
}
