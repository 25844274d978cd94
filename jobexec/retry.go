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

package jobexec

import (
	"context"

	"github.com/shardsql/core/core"
)

// Attempt runs one execution attempt given a fresh job id and the
// remaining timeout budget.
type Attempt func(ctx context.Context, job core.JobID, remaining *core.TimeoutToken) error

// RetryOnFailure re-runs attempt with a fresh job-id whenever it fails
// with a temporary error, preserving the remaining timeout budget
// across attempts: spec.md §9's retry-on-failure design note. Stops and
// returns the error once it's no longer temporary, the context is
// cancelled, or the timeout token has already breached.
func RetryOnFailure(ctx context.Context, tok *core.TimeoutToken, attempt Attempt) error {
	for {
		if err := tok.Check(); err != nil {
			return err
		}
		job := core.NewJobID()
		err := attempt(ctx, job, tok)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !core.IsTemporary(err) {
			return err
		}
	}
}
