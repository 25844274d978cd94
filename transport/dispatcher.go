// Copyright (C) 2024 The ShardSQL Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/shardsql/core/core"
	"github.com/shardsql/core/jobexec"
)

// Peer names how to reach a node: the address tuple passed verbatim to
// net.Dial, directly modeled on tnproto.Remote's Net/Addr/Timeout
// fields.
type Peer struct {
	ID      NodeID
	Net     string
	Addr    string
	Timeout time.Duration
}

// PhaseRegistry holds each node's local copy of the phases it has been
// asked to run, keyed by phase ID. A node's Projections are Go values
// (closures over plan state), not wire-transmissible data, so rather
// than re-invent a serialized plan-AST format the coordinator ships
// only a phase ID and its input rows; each node already received and
// registered the corresponding *jobexec.Phase when the plan was
// compiled and fanned out. This is the same shape as tnproto.Remote,
// which ships a serialized plan.Tree but relies on the remote having
// pre-registered transport/operator decoders (plan.AddTransportDecoder)
// rather than shipping executable code.
type PhaseRegistry struct {
	mu     sync.RWMutex
	phases map[string]*jobexec.Phase
}

// NewPhaseRegistry returns an empty registry.
func NewPhaseRegistry() *PhaseRegistry {
	return &PhaseRegistry{phases: make(map[string]*jobexec.Phase)}
}

// Register installs ph under its own ID, overwriting any prior phase
// registered under the same ID.
func (r *PhaseRegistry) Register(ph *jobexec.Phase) {
	r.mu.Lock()
	r.phases[ph.ID] = ph
	r.mu.Unlock()
}

// Forget drops ph.ID once a job using it has completed.
func (r *PhaseRegistry) Forget(id string) {
	r.mu.Lock()
	delete(r.phases, id)
	r.mu.Unlock()
}

func (r *PhaseRegistry) lookup(id string) (*jobexec.Phase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ph, ok := r.phases[id]
	return ph, ok
}

// RemoteError is returned from Dispatcher.RunPhase when the remote
// node ran the phase and reported a failure, mirroring tnproto's
// RemoteError (a remote-originated error distinct from a local
// transport/dial failure, so callers can classify the two
// differently).
type RemoteError struct{ Text string }

func (e *RemoteError) Error() string { return e.Text }

// Dispatcher implements jobexec.NodeDispatcher over the network: dial,
// handshake, send a framed request naming the phase ID and carrying
// input rows, and read back a framed row response or RemoteError.
type Dispatcher struct {
	Self  NodeID
	Key   Key
	Peers map[NodeID]Peer

	mu    sync.Mutex
	conns map[NodeID]net.Conn
}

// NewDispatcher returns a Dispatcher identifying itself as self to
// every peer it dials.
func NewDispatcher(self NodeID, key Key, peers map[NodeID]Peer) *Dispatcher {
	return &Dispatcher{Self: self, Key: key, Peers: peers, conns: make(map[NodeID]net.Conn)}
}

func (d *Dispatcher) dial(id NodeID) (net.Conn, error) {
	d.mu.Lock()
	if c, ok := d.conns[id]; ok {
		d.mu.Unlock()
		return c, nil
	}
	d.mu.Unlock()

	peer, ok := d.Peers[id]
	if !ok {
		return nil, fmt.Errorf("transport: no peer registered for node %q", id)
	}
	var conn net.Conn
	var err error
	if peer.Timeout > 0 {
		conn, err = net.DialTimeout(peer.Net, peer.Addr, peer.Timeout)
	} else {
		conn, err = net.Dial(peer.Net, peer.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dialing node %q: %w", id, err)
	}
	if err := writeHandshake(conn, d.Self, d.Key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: handshake with node %q: %w", id, err)
	}

	d.mu.Lock()
	d.conns[id] = conn
	d.mu.Unlock()
	return conn, nil
}

// drop closes and forgets a connection that failed mid-request, so the
// next RunPhase call to the same node dials fresh.
func (d *Dispatcher) drop(id NodeID, conn net.Conn) {
	conn.Close()
	d.mu.Lock()
	if d.conns[id] == conn {
		delete(d.conns, id)
	}
	d.mu.Unlock()
}

// RunPhase implements jobexec.NodeDispatcher.
func (d *Dispatcher) RunPhase(ctx context.Context, nodeID string, ph *jobexec.Phase, input []core.Row) ([]core.Row, error) {
	id := NodeID(nodeID)
	conn, err := d.dial(id)
	if err != nil {
		return nil, err
	}

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	} else {
		conn.SetDeadline(time.Time{})
	}

	if err := writeRequest(conn, ph.ID, input); err != nil {
		d.drop(id, conn)
		return nil, fmt.Errorf("transport: sending phase %s to node %q: %w", ph.ID, nodeID, err)
	}
	rows, remoteErr, err := readResponse(conn)
	if err != nil {
		d.drop(id, conn)
		return nil, fmt.Errorf("transport: reading phase %s response from node %q: %w", ph.ID, nodeID, err)
	}
	if remoteErr != "" {
		return nil, &RemoteError{Text: remoteErr}
	}
	return rows, nil
}

// Close releases every pooled connection.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, c := range d.conns {
		c.Close()
		delete(d.conns, id)
	}
}

const (
	respOK    = 0
	respError = 1
)

func writeRequest(w io.Writer, phaseID string, input []core.Row) error {
	chunk := compressChunk(input)
	header := make([]byte, 4+4+len(phaseID))
	binary.LittleEndian.PutUint32(header[:4], uint32(len(phaseID)))
	copy(header[4:], phaseID)
	binary.LittleEndian.PutUint32(header[4+len(phaseID):], uint32(len(chunk)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(chunk)
	return err
}

func readRequest(r io.Reader) (phaseID string, input []core.Row, err error) {
	var idLen [4]byte
	if _, err = io.ReadFull(r, idLen[:]); err != nil {
		return "", nil, err
	}
	n := binary.LittleEndian.Uint32(idLen[:])
	idBuf := make([]byte, n)
	if _, err = io.ReadFull(r, idBuf); err != nil {
		return "", nil, err
	}
	var chunkLen [4]byte
	if _, err = io.ReadFull(r, chunkLen[:]); err != nil {
		return "", nil, err
	}
	chunk := make([]byte, binary.LittleEndian.Uint32(chunkLen[:]))
	if _, err = io.ReadFull(r, chunk); err != nil {
		return "", nil, err
	}
	rows, err := decompressChunk(chunk)
	if err != nil {
		return "", nil, err
	}
	return string(idBuf), rows, nil
}

func writeResponse(w io.Writer, rows []core.Row, remoteErr error) error {
	if remoteErr != nil {
		msg := remoteErr.Error()
		header := make([]byte, 5+len(msg))
		header[0] = respError
		binary.LittleEndian.PutUint32(header[1:5], uint32(len(msg)))
		copy(header[5:], msg)
		_, err := w.Write(header)
		return err
	}
	chunk := compressChunk(rows)
	header := make([]byte, 5)
	header[0] = respOK
	binary.LittleEndian.PutUint32(header[1:5], uint32(len(chunk)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(chunk)
	return err
}

func readResponse(r io.Reader) (rows []core.Row, remoteErr string, err error) {
	var head [5]byte
	if _, err = io.ReadFull(r, head[:]); err != nil {
		return nil, "", err
	}
	n := binary.LittleEndian.Uint32(head[1:5])
	body := make([]byte, n)
	if _, err = io.ReadFull(r, body); err != nil {
		return nil, "", err
	}
	if head[0] == respError {
		return nil, string(body), nil
	}
	rows, err = decompressChunk(body)
	return rows, "", err
}

// Server accepts node-to-node connections, validates the handshake and
// serves phase requests against its local PhaseRegistry, mirroring
// tnproto.Serve's accept-handshake-then-dispatch loop.
type Server struct {
	Self     NodeID
	Key      Key
	Registry *PhaseRegistry
}

// Serve accepts connections from ln until it returns an error (or ln is
// closed), handling each on its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	if _, err := readHandshake(conn, s.Key); err != nil {
		return
	}
	for {
		phaseID, input, err := readRequest(conn)
		if err != nil {
			return
		}
		ph, ok := s.Registry.lookup(phaseID)
		if !ok {
			writeResponse(conn, nil, fmt.Errorf("transport: node %q has no registered phase %q", s.Self, phaseID))
			continue
		}
		out, err := ph.Apply(input)
		if writeResponse(conn, out, err) != nil {
			return
		}
	}
}
