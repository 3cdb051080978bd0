package sensor_simulator

import (
	"crypto/subtle"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/sensorbus"
)

// Bridge exposes the simulated device like a serial-to-WebSocket bridge:
// binary messages in are bus requests, binary messages out are responses.
type Bridge struct {
	dev      *Device
	user     string
	password string
	upgrader websocket.Upgrader
	mu       sync.Mutex
}

func NewBridge(dev *Device, user, password string) *Bridge {
	return &Bridge{dev: dev, user: user, password: password}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.user != "" {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(b.user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(b.password)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	c, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("sim bridge: upgrade: %v", err)
		return
	}
	defer c.Close()
	log.Printf("sim bridge: client %s connected", r.RemoteAddr)

	for {
		mt, req, err := c.ReadMessage()
		if err != nil {
			log.Printf("sim bridge: client %s gone: %v", r.RemoteAddr, err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		resp := b.exchange(req)
		if len(resp) == 0 {
			continue
		}
		if err := c.WriteMessage(websocket.BinaryMessage, resp); err != nil {
			return
		}
	}
}

func (b *Bridge) exchange(req []byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.dev.ResetInputBuffer()
	if _, err := b.dev.Write(req); err != nil {
		return nil
	}
	buf := make([]byte, sensorbus.FrameSize)
	n, _ := b.dev.Read(buf)
	return buf[:n]
}
