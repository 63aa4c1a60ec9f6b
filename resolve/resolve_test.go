/*
   Copyright 2025 The DIRPX Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package resolve_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dirpx.dev/timeaxis/groups"
	"dirpx.dev/timeaxis/ids"
	"dirpx.dev/timeaxis/reqqueue"
	"dirpx.dev/timeaxis/resolve"
)

func req(id ids.RequestId, priority int32, value int64, mt reqqueue.MutationType) reqqueue.PendingRequest {
	return reqqueue.PendingRequest{
		RequestId: id,
		Desc: reqqueue.StateChangeDesc{
			Key:          ids.StateKey{Primary: 10},
			Priority:     priority,
			MutationType: mt,
			Value:        ids.Int(value),
		},
	}
}

func TestFirstWriterSingleGroup(t *testing.T) {
	group := groups.Group{Id: 0, Policy: groups.FirstWriter, Active: true}
	requests := []reqqueue.PendingRequest{
		req(1, 0, 7, reqqueue.Set),
		req(2, 0, 9, reqqueue.Set),
	}

	result := resolve.Resolve(group, requests)
	require.Len(t, result.ResolvedChanges, 1)
	require.Equal(t, int64(7), result.ResolvedChanges[0].Value.AsInt())
	require.False(t, result.ResolutionError)
}

func TestLastWriterPicksHighestRequestId(t *testing.T) {
	group := groups.Group{Id: 0, Policy: groups.LastWriter, Active: true}
	requests := []reqqueue.PendingRequest{
		req(1, 0, 7, reqqueue.Set),
		req(3, 0, 5, reqqueue.Set),
		req(2, 0, 9, reqqueue.Set),
	}

	result := resolve.Resolve(group, requests)
	require.Equal(t, int64(5), result.ResolvedChanges[0].Value.AsInt())
}

func TestPriorityWithEqualValuesTiesToLowestId(t *testing.T) {
	group := groups.Group{Id: 0, Policy: groups.Priority, Active: true}
	requests := []reqqueue.PendingRequest{
		req(1, 5, 100, reqqueue.Set),
		req(2, 10, 200, reqqueue.Set),
		req(3, 10, 300, reqqueue.Set),
	}

	result := resolve.Resolve(group, requests)
	require.Equal(t, int64(200), result.ResolvedChanges[0].Value.AsInt())
}

func TestCustomFallsBackToFirstWriterOnFailure(t *testing.T) {
	group := groups.Group{
		Id:     0,
		Policy: groups.Custom,
		Active: true,
		CustomFunc: func(sub []ids.RequestId) int {
			return 99 // out of range -> failure
		},
	}
	requests := []reqqueue.PendingRequest{
		req(5, 0, 1, reqqueue.Set),
		req(6, 0, 2, reqqueue.Set),
	}

	result := resolve.Resolve(group, requests)
	require.Equal(t, int64(1), result.ResolvedChanges[0].Value.AsInt(), "must fall back to FirstWriter")
}

func TestCustomFallsBackOnPanic(t *testing.T) {
	group := groups.Group{
		Id:     0,
		Policy: groups.Custom,
		Active: true,
		CustomFunc: func(sub []ids.RequestId) int {
			panic("boom")
		},
	}
	requests := []reqqueue.PendingRequest{
		req(5, 0, 1, reqqueue.Set),
		req(6, 0, 2, reqqueue.Set),
	}

	require.NotPanics(t, func() {
		result := resolve.Resolve(group, requests)
		require.Equal(t, int64(1), result.ResolvedChanges[0].Value.AsInt())
	})
}

func TestCustomHonorsValidWinner(t *testing.T) {
	group := groups.Group{
		Id:     0,
		Policy: groups.Custom,
		Active: true,
		CustomFunc: func(sub []ids.RequestId) int {
			return 1 // pick the second, pre-sorted entry
		},
	}
	requests := []reqqueue.PendingRequest{
		req(5, 0, 1, reqqueue.Set),
		req(6, 0, 2, reqqueue.Set),
	}

	result := resolve.Resolve(group, requests)
	require.Equal(t, int64(2), result.ResolvedChanges[0].Value.AsInt())
}

func TestDeleteEmitsTombstone(t *testing.T) {
	group := groups.Group{Id: 0, Policy: groups.FirstWriter, Active: true}
	requests := []reqqueue.PendingRequest{req(1, 0, 0, reqqueue.Delete)}

	result := resolve.Resolve(group, requests)
	require.Len(t, result.ResolvedChanges, 1)
	require.True(t, result.ResolvedChanges[0].Tombstone)
}

func TestAddEmitsSuppliedValueAsSet(t *testing.T) {
	group := groups.Group{Id: 0, Policy: groups.FirstWriter, Active: true}
	requests := []reqqueue.PendingRequest{req(1, 0, 5, reqqueue.Add)}

	result := resolve.Resolve(group, requests)
	require.Equal(t, int64(5), result.ResolvedChanges[0].Value.AsInt())
	require.False(t, result.ResolvedChanges[0].Tombstone)
}

func TestMultiplyEmitsSuppliedValueAsSet(t *testing.T) {
	group := groups.Group{Id: 0, Policy: groups.FirstWriter, Active: true}
	requests := []reqqueue.PendingRequest{req(1, 0, 3, reqqueue.Multiply)}

	result := resolve.Resolve(group, requests)
	require.Equal(t, int64(3), result.ResolvedChanges[0].Value.AsInt())
}

func TestResolvedChangesOrderedByKeyHashAscending(t *testing.T) {
	group := groups.Group{Id: 0, Policy: groups.FirstWriter, Active: true}

	mk := func(id ids.RequestId, primary uint64) reqqueue.PendingRequest {
		return reqqueue.PendingRequest{
			RequestId: id,
			Desc: reqqueue.StateChangeDesc{
				Key:          ids.StateKey{Primary: primary},
				MutationType: reqqueue.Set,
				Value:        ids.Int(int64(primary)),
			},
		}
	}
	requests := []reqqueue.PendingRequest{mk(1, 30), mk(2, 10), mk(3, 20)}

	result := resolve.Resolve(group, requests)
	require.Len(t, result.ResolvedChanges, 3)
	require.True(t, result.ResolvedChanges[0].KeyHash < result.ResolvedChanges[1].KeyHash)
	require.True(t, result.ResolvedChanges[1].KeyHash < result.ResolvedChanges[2].KeyHash)
}

func TestChangeHashReflectsResolvedValue(t *testing.T) {
	group := groups.Group{Id: 0, Policy: groups.FirstWriter, Active: true}
	a := []reqqueue.PendingRequest{req(1, 0, 1, reqqueue.Set)}
	b := []reqqueue.PendingRequest{req(1, 0, 2, reqqueue.Set)}

	ra := resolve.Resolve(group, a)
	rb := resolve.Resolve(group, b)
	require.NotEqual(t, ra.ChangeHash, rb.ChangeHash)
}
