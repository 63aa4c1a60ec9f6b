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

package reqqueue_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dirpx.dev/timeaxis/axiserr"
	"dirpx.dev/timeaxis/ids"
	"dirpx.dev/timeaxis/reqqueue"
)

func desc(slot ids.SlotIndex) reqqueue.StateChangeDesc {
	return reqqueue.StateChangeDesc{TargetSlot: slot, GroupId: 0, Key: ids.StateKey{Primary: 1}}
}

func TestSubmitRejectsPastSlot(t *testing.T) {
	q := reqqueue.New(0)
	q.SetCurrentSlot(5)

	_, err := q.Submit(desc(5))
	requireCode(t, err, axiserr.SlotInPast)

	_, err = q.Submit(desc(4))
	requireCode(t, err, axiserr.SlotInPast)

	id, err := q.Submit(desc(6))
	require.NoError(t, err)
	require.True(t, id.Valid())
}

func TestSubmitAllocatesIncreasingIds(t *testing.T) {
	q := reqqueue.New(0)
	id1, err := q.Submit(desc(1))
	require.NoError(t, err)
	id2, err := q.Submit(desc(1))
	require.NoError(t, err)
	require.Less(t, uint64(id1), uint64(id2))
}

func TestSubmitQueueFull(t *testing.T) {
	q := reqqueue.New(2)
	_, err := q.Submit(desc(1))
	require.NoError(t, err)
	_, err = q.Submit(desc(1))
	require.NoError(t, err)

	_, err = q.Submit(desc(1))
	requireCode(t, err, axiserr.RequestQueueFull)
}

func TestSubmitBatchAllOrNothing(t *testing.T) {
	q := reqqueue.New(0)
	q.SetCurrentSlot(10)

	_, err := q.SubmitBatch([]reqqueue.StateChangeDesc{desc(11), desc(10)})
	requireCode(t, err, axiserr.SlotInPast)
	require.Equal(t, 0, q.Len(), "a rejected batch must not partially apply")

	ids2, err := q.SubmitBatch([]reqqueue.StateChangeDesc{desc(11), desc(12)})
	require.NoError(t, err)
	require.Len(t, ids2, 2)
	require.Equal(t, 2, q.Len())
}

func TestSubmitBatchCapacity(t *testing.T) {
	q := reqqueue.New(3)
	_, err := q.Submit(desc(1))
	require.NoError(t, err)

	_, err = q.SubmitBatch([]reqqueue.StateChangeDesc{desc(1), desc(1), desc(1)})
	requireCode(t, err, axiserr.RequestQueueFull)
	require.Equal(t, 1, q.Len())
}

func TestCancelObservedAtHarvest(t *testing.T) {
	q := reqqueue.New(0)
	id1, _ := q.Submit(desc(1))
	id2, _ := q.Submit(desc(1))

	require.NoError(t, q.Cancel(id1))
	requireCode(t, q.Cancel(id1), axiserr.NotFound) // already cancelled
	requireCode(t, q.Cancel(ids.RequestId(9999)), axiserr.NotFound)

	harvested := q.Harvest(1)
	require.Len(t, harvested, 1)
	require.Equal(t, id2, harvested[0].RequestId)
}

func TestHarvestOrderingAndSlotFilter(t *testing.T) {
	q := reqqueue.New(0)
	id1, _ := q.Submit(desc(2))
	id2, _ := q.Submit(desc(1))
	id3, _ := q.Submit(desc(1))

	harvested := q.Harvest(1)
	require.Equal(t, []ids.RequestId{id2, id3}, []ids.RequestId{harvested[0].RequestId, harvested[1].RequestId})
	require.Equal(t, 1, q.Len(), "slot-2 request must remain queued")

	harvested = q.Harvest(2)
	require.Len(t, harvested, 1)
	require.Equal(t, id1, harvested[0].RequestId)
	require.Equal(t, 0, q.Len())
}

func TestPendingFor(t *testing.T) {
	q := reqqueue.New(0)
	id1, _ := q.Submit(desc(1))
	q.Submit(desc(1))
	q.Submit(desc(2))
	require.NoError(t, q.Cancel(id1))

	require.Equal(t, 1, q.PendingFor(1))
	require.Equal(t, 1, q.PendingFor(2))
	require.Equal(t, 0, q.PendingFor(3))
}

func requireCode(t *testing.T, err error, want axiserr.Code) {
	t.Helper()
	require.Error(t, err)
	code, ok := axiserr.As(err)
	require.True(t, ok)
	require.Equal(t, want, code)
}
