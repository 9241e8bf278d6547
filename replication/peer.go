/*
Copyright (C) 2026  kvmesh contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package replication carries cluster coordination: gossip delta
// propagation (§4.4), Merkle anti-entropy reconciliation (§4.5), and the
// peer transport both ride on. The websocket upgrade-then-read-loop shape
// and the mutex-guarded single writer per connection are grounded on
// scm/network.go's HttpServer.websocket handler, which upgrades an HTTP
// request to a websocket, spawns a read loop goroutine, and returns a
// send callback guarded by a sendmutex so concurrent writers never race
// on the same connection.
package replication

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope is the wire message exchanged between peers: either a batch of
// gossip deltas or a Merkle anti-entropy request/response, discriminated
// by Kind.
type Envelope struct {
	Kind    string          `json:"kind"` // "gossip", "merkle_request", "merkle_response"
	Payload json.RawMessage `json:"payload"`
}

const (
	EnvelopeGossip         = "gossip"
	EnvelopeMerkleRequest  = "merkle_request"
	EnvelopeMerkleResponse = "merkle_response"
)

// Peer is one outbound or inbound connection to a cluster member,
// wrapping a websocket connection with a single mutex-guarded writer
// (matching the teacher's sendmutex) and a dedicated read loop that
// dispatches incoming envelopes to Handler.
type Peer struct {
	NodeAddr string

	conn    *websocket.Conn
	writeMu sync.Mutex

	handler  func(Envelope)
	closeMu  sync.Mutex
	closed   bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AcceptPeer upgrades an inbound HTTP request to a websocket connection.
// The read loop is not started yet — call Start once the caller has
// finished registering the returned Peer wherever SendTo looks it up, so
// an inbound envelope can never arrive and need a reply before the peer
// is reachable by address.
func AcceptPeer(w http.ResponseWriter, r *http.Request, handler func(Envelope)) (*Peer, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("replication: upgrade: %w", err)
	}
	return &Peer{NodeAddr: r.RemoteAddr, conn: conn, handler: handler}, nil
}

// DialPeer opens an outbound websocket connection to a cluster member at
// addr (a ws:// or wss:// URL). As with AcceptPeer, the read loop is not
// started until Start is called.
func DialPeer(addr string, handler func(Envelope)) (*Peer, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("replication: dial %s: %w", addr, err)
	}
	return &Peer{NodeAddr: addr, conn: conn, handler: handler}, nil
}

// Start begins the peer's read loop. Callers must register the Peer
// wherever it can be looked up by address before calling Start, so the
// first inbound envelope is never processed before a reply to it could
// be routed back out.
func (p *Peer) Start() {
	go p.readLoop()
}

func (p *Peer) readLoop() {
	defer p.Close()
	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		p.handler(env)
	}
}

// Send writes env to the peer, guarded by writeMu so concurrent senders
// from gossip and anti-entropy never interleave frames on the same
// connection.
func (p *Peer) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("replication: marshal envelope: %w", err)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection. Safe to call multiple times.
func (p *Peer) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}
