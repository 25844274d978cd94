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
	"errors"
	"net"

	"github.com/shardsql/core/core"
)

// isTimeout reports whether err (or anything it wraps) is a timed-out
// net.Error, directly modeled on cmd/snellerd/handler_execute_query.go's
// isTimeout.
func isTimeout(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if ne, ok := e.(net.Error); ok && ne.Timeout() {
			return true
		}
	}
	return false
}

// Retryable classifies a RunPhase failure the way jobexec.RetryOnFailure
// classifies read-path failures: a timed-out connection, or a failure
// whose cause is core.ErrTemporary, is retryable. A RemoteError (the
// node itself ran the phase and rejected it) is never retryable, and
// neither is any other dial, handshake or framing failure.
func Retryable(err error) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return false
	}
	if isTimeout(err) {
		return true
	}
	return core.IsTemporary(err)
}
