package ws

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/mudportal/internal/config"
	"github.com/cory-johannsen/mudportal/internal/portal"
	"github.com/cory-johannsen/mudportal/internal/portal/markup"
	"github.com/cory-johannsen/mudportal/internal/portal/session"
	"github.com/cory-johannsen/mudportal/internal/portal/wire"
)

type recordingInput struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingInput) handle(conn *portal.Conn, text string) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	conn.Send("you said: "+text, portal.SendOptions{Raw: true})
}

func (r *recordingInput) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func startAcceptor(t *testing.T, reg *session.Registry) *Acceptor {
	t.Helper()
	cfg := config.WebSocketConfig{
		Host:            "127.0.0.1",
		Port:            0, // random port
		Path:            "/ws",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		MaxMessageBytes: 1 << 20,
	}
	portalCfg := config.PortalConfig{Encoding: "utf-8", ChannelKind: "websocket"}

	acc := NewAcceptor(cfg, portalCfg, reg, markup.Render, zaptest.NewLogger(t))
	go func() {
		_ = acc.ListenAndServe()
	}()

	deadline := time.After(2 * time.Second)
	for {
		if acc.IsRunning() && acc.Addr() != "" {
			return acc
		}
		select {
		case <-deadline:
			t.Fatal("acceptor did not start in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func dial(t *testing.T, acc *Acceptor) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws", acc.Addr())
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return client
}

func readText(t *testing.T, client *websocket.Conn) string {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	return string(data)
}

func TestAcceptor_TextInputRoundTrip(t *testing.T) {
	input := &recordingInput{}
	reg := session.NewRegistry(zaptest.NewLogger(t), input.handle)
	acc := startAcceptor(t, reg)
	defer acc.Stop()

	client := dial(t, acc)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("look")))
	assert.Equal(t, "you said: look", readText(t, client))
	assert.Equal(t, []string{"look"}, input.all())
	assert.Equal(t, 1, reg.Count())
}

func TestAcceptor_OOBEcho(t *testing.T) {
	reg := session.NewRegistry(zaptest.NewLogger(t), nil)
	reg.HandleFunc("echo", func(conn *portal.Conn, inst wire.Instruction) {
		conn.Send("", portal.SendOptions{OOB: inst})
	})
	acc := startAcceptor(t, reg)
	defer acc.Stop()

	client := dial(t, acc)
	defer client.Close()

	frame := `OOB[["echo",[1,"two"],{"x":true}]]`
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(frame)))
	assert.Equal(t, frame, readText(t, client))
}

func TestAcceptor_MalformedOOBKeepsConnectionUsable(t *testing.T) {
	input := &recordingInput{}
	reg := session.NewRegistry(zaptest.NewLogger(t), input.handle)
	acc := startAcceptor(t, reg)
	defer acc.Stop()

	client := dial(t, acc)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("OOBnotjson")))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("still here")))

	assert.Equal(t, "you said: still here", readText(t, client))
	assert.Equal(t, []string{"still here"}, input.all())
}

func TestAcceptor_ClientDisconnectUnregisters(t *testing.T) {
	reg := session.NewRegistry(zaptest.NewLogger(t), nil)
	acc := startAcceptor(t, reg)
	defer acc.Stop()

	client := dial(t, acc)

	deadline := time.After(2 * time.Second)
	for reg.Count() != 1 {
		select {
		case <-deadline:
			t.Fatal("session was not registered in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	client.Close()

	deadline = time.After(2 * time.Second)
	for reg.Count() != 0 {
		select {
		case <-deadline:
			t.Fatal("session was not unregistered in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestAcceptor_StopDisconnectsClients(t *testing.T) {
	reg := session.NewRegistry(zaptest.NewLogger(t), nil)
	acc := startAcceptor(t, reg)

	client := dial(t, acc)
	defer client.Close()

	deadline := time.After(2 * time.Second)
	for reg.Count() != 1 {
		select {
		case <-deadline:
			t.Fatal("session was not registered in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	acc.Stop()

	assert.Zero(t, reg.Count())
	assert.False(t, acc.IsRunning())
}
