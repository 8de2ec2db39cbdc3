package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linsyking/git-visualizer/internal/graph"
)

const (
	commitA = "aa00000000000000000000000000000000000000"
	commitB = "bb00000000000000000000000000000000000000"
)

func newTestStore() *graph.Store {
	store := graph.NewStore()
	a := graph.NewNode(commitA, graph.KindCommit, "/repo/.git", "")
	a.Resolve(graph.KindCommit, []string{commitB})
	store.Add(a)
	b := graph.NewNode(commitB, graph.KindCommit, "/repo/.git", "")
	b.Resolve(graph.KindCommit, nil)
	store.Add(b)
	branch := graph.NewNode("main", graph.KindBranch, "/repo/.git", "main")
	branch.Repoint(commitA)
	store.Add(branch)
	return store
}

func TestServerEndpoints(t *testing.T) {
	srv := NewServer(newTestStore(), NewHub(nil), "", nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := ts.Client()

	t.Run("Ping", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/ping")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Tree", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/tree")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var snap graph.Snapshot
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
		assert.Len(t, snap.Nodes, 3)
		assert.ElementsMatch(t, []graph.Edge{
			graph.NewEdge(commitA, commitB),
			graph.NewEdge("main", commitA),
		}, snap.Edges)
	})

	t.Run("NodeData", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/nodedata/main")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var detail graph.Detail
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
		assert.Equal(t, "main", detail.ID)
		assert.Equal(t, graph.KindBranch, detail.Type)
		assert.Equal(t, []string{commitA}, detail.Children)
		assert.Equal(t, "/repo/.git", detail.SourceDir)
	})

	t.Run("NodeDataNotFound", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/nodedata/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		resp, err := client.Post(ts.URL+"/tree", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("NoStaticDir", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/index.html")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServerStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>viewer</html>"), 0o644))

	ts := httptest.NewServer(NewServer(graph.NewStore(), NewHub(nil), dir, nil))
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubBroadcastsDeltasInOrder(t *testing.T) {
	hub := NewHub(nil)
	ts := httptest.NewServer(NewServer(graph.NewStore(), hub, "", nil))
	defer ts.Close()

	viewers := []*websocket.Conn{dial(t, ts.URL+"/ws"), dial(t, ts.URL+"/")}
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 5*time.Second, 10*time.Millisecond)

	branch := graph.NewNode("main", graph.KindBranch, "/repo/.git", "main")
	hub.NodeAdded(branch)
	hub.EdgeRemoved("main", commitB)
	hub.EdgeAdded("main", commitA)
	hub.NodeRemoved(branch)

	for _, conn := range viewers {
		msg := readMessage(t, conn)
		assert.Equal(t, "addnode", msg["type"])
		assert.Equal(t, map[string]any{"id": "main", "type": "branch", "label": "main"}, msg["data"])

		msg = readMessage(t, conn)
		assert.Equal(t, "removeedge", msg["type"])
		assert.Equal(t, map[string]any{"id": "main_" + commitB, "from": "main", "to": commitB}, msg["data"])

		assert.Equal(t, "addedge", readMessage(t, conn)["type"])
		assert.Equal(t, "removenode", readMessage(t, conn)["type"])
	}
}

func TestHubUnregistersClosedViewer(t *testing.T) {
	hub := NewHub(nil)
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dial(t, ts.URL)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(nil)
	slow := &client{id: "slow", send: make(chan []byte, 1)}
	hub.clients[slow.id] = slow

	hub.EdgeAdded("main", commitA)
	assert.Equal(t, 1, hub.Clients())
	hub.EdgeAdded("main", commitB)
	assert.Equal(t, 0, hub.Clients(), "full queue disconnects the client")

	<-slow.send
	_, open := <-slow.send
	assert.False(t, open)
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil)
	c := &client{id: "a", send: make(chan []byte, 1)}
	hub.clients[c.id] = c

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	_, open := <-c.send
	assert.False(t, open)
	hub.unregister(c)
}
