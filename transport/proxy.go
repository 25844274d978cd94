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
	"fmt"

	"github.com/shardsql/core/core"
	"github.com/shardsql/core/jobexec"
)

// Proxy wraps a Dispatcher so the coordinator can fan a phase out to a
// node it has no direct route to, by asking an intermediate node
// (Via) to run the phase on its behalf and relay the result back.
// Grounded on tenant.Manager's "Proxy Execution" requests: a tenant
// that can't reach a peer tenant directly asks a tenant it IS attached
// to to run the query and report results, rather than opening a new
// direct connection.
//
// This only changes which connection carries the request; the wire
// format is identical, since Via's own Server.handle doesn't
// distinguish a proxied request from a direct one.
type Proxy struct {
	Upstream *Dispatcher
	Via      NodeID
	Target   NodeID
}

// RunPhase implements jobexec.NodeDispatcher by dispatching to p.Via
// and asking it, via the phase ID namespace, to run the phase against
// its own registry entry for p.Target's copy of the plan. Proxying
// assumes Via and Target were both handed the same compiled plan
// (true for any node appearing in the same Phase.NodeIDs set), so Via
// can run the phase locally without a further hop.
func (p *Proxy) RunPhase(ctx context.Context, nodeID string, ph *jobexec.Phase, input []core.Row) ([]core.Row, error) {
	if NodeID(nodeID) != p.Target {
		return nil, fmt.Errorf("transport: proxy configured for node %q, asked to run on %q", p.Target, nodeID)
	}
	rows, err := p.Upstream.RunPhase(ctx, string(p.Via), ph, input)
	if err != nil {
		return nil, fmt.Errorf("transport: proxying phase %s via node %q: %w", ph.ID, p.Via, err)
	}
	return rows, nil
}
