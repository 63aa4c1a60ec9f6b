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

package axis_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	timeaxis "dirpx.dev/timeaxis"
	"dirpx.dev/timeaxis/axiserr"
	"dirpx.dev/timeaxis/axisconfig"
	"dirpx.dev/timeaxis/groups"
	"dirpx.dev/timeaxis/ids"
	"dirpx.dev/timeaxis/reqqueue"
	"dirpx.dev/timeaxis/termination"
)

func newTestAxis(t *testing.T, opts ...axisconfig.Option) *timeaxis.Axis {
	t.Helper()
	a, err := timeaxis.Create(axisconfig.New(opts...))
	require.NoError(t, err)
	t.Cleanup(a.Destroy)
	return a
}

func TestCreateAssignsDistinctIDs(t *testing.T) {
	a1 := newTestAxis(t)
	a2 := newTestAxis(t)
	require.NotEqual(t, a1.ID, a2.ID)
}

func TestTwoAxesAreFullyIndependent(t *testing.T) {
	a1 := newTestAxis(t)
	a2 := newTestAxis(t)

	gid, err := a1.CreateGroup(groups.FirstWriter)
	require.NoError(t, err)

	_, err = a1.Submit(reqqueue.StateChangeDesc{
		TargetSlot: 1,
		GroupId:    gid,
		Key:        ids.StateKey{Primary: 1},
		Value:      ids.Int(1),
	})
	require.NoError(t, err)
	require.NoError(t, a1.Tick())

	require.Equal(t, ids.SlotIndex(1), a1.GetCurrentSlot())
	require.Equal(t, ids.SlotIndex(0), a2.GetCurrentSlot(), "ticking one axis must not advance a second")
}

func TestSubmitSucceedsThenFailsAfterDestroy(t *testing.T) {
	a := newTestAxis(t)
	gid, err := a.CreateGroup(groups.Priority)
	require.NoError(t, err)

	_, err = a.Submit(reqqueue.StateChangeDesc{TargetSlot: 1, GroupId: gid, Key: ids.StateKey{Primary: 1}, Value: ids.Int(1)})
	require.NoError(t, err)

	a.Destroy()

	_, err = a.Submit(reqqueue.StateChangeDesc{TargetSlot: 2, GroupId: gid, Key: ids.StateKey{Primary: 1}, Value: ids.Int(1)})
	requireCode(t, err, axiserr.NotInitialized)

	_, err = a.SubmitBatch([]reqqueue.StateChangeDesc{{TargetSlot: 2, GroupId: gid, Key: ids.StateKey{Primary: 2}, Value: ids.Int(2)}})
	requireCode(t, err, axiserr.NotInitialized)

	require.Error(t, a.Tick())
}

func TestDestroyIsIdempotent(t *testing.T) {
	a := newTestAxis(t)
	require.NotPanics(t, func() {
		a.Destroy()
		a.Destroy()
		a.Destroy()
	})
}

func TestTickLastWriterCommitsHighestRequestId(t *testing.T) {
	a := newTestAxis(t)
	gid, err := a.CreateGroup(groups.LastWriter)
	require.NoError(t, err)

	key := ids.StateKey{Primary: 7}
	id1, err := a.Submit(reqqueue.StateChangeDesc{TargetSlot: 1, GroupId: gid, Key: key, Value: ids.Int(100)})
	require.NoError(t, err)
	id2, err := a.Submit(reqqueue.StateChangeDesc{TargetSlot: 1, GroupId: gid, Key: key, Value: ids.Int(200)})
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	require.NoError(t, a.Tick())

	v, err := a.QueryState(1, key)
	require.NoError(t, err)
	require.Equal(t, int64(200), v.AsInt(), "LastWriter resolves to the highest RequestId")
}

func TestTickMultipleAdvancesNSlots(t *testing.T) {
	a := newTestAxis(t)
	_, err := a.CreateGroup(groups.Priority)
	require.NoError(t, err)

	require.NoError(t, a.TickMultiple(5))
	require.Equal(t, ids.SlotIndex(5), a.GetCurrentSlot())
}

func TestSetTerminationFamilyAlwaysReturnsPolicyLocked(t *testing.T) {
	a := newTestAxis(t)

	requireCode(t, a.SetTerminationByStepLimit(10), axiserr.PolicyLocked)
	requireCode(t, a.SetTerminationOnRequestDrain(true), axiserr.PolicyLocked)
	requireCode(t, a.SetTerminationOnGroupResolution(true), axiserr.PolicyLocked)
	requireCode(t, a.SetTerminationOnExternalSignal(1), axiserr.PolicyLocked)
	requireCode(t, a.SetTerminationSafetyCap(10), axiserr.PolicyLocked)
	requireCode(t, a.SetTerminationCustomCallback(func(termination.Context) bool { return false }), axiserr.PolicyLocked)
	requireCode(t, a.SetTerminationConfig(termination.Config{}), axiserr.PolicyLocked)
}

func TestGetTerminationPolicyHashIsStableAcrossTicks(t *testing.T) {
	a := newTestAxis(t)
	before := a.GetTerminationPolicyHash()
	require.NoError(t, a.TickMultiple(3))
	require.Equal(t, before, a.GetTerminationPolicyHash())
}

func TestReconstructAndQueryStateAgreeAtPastSlot(t *testing.T) {
	a := newTestAxis(t, axisconfig.WithAnchorInterval(2))
	gid, err := a.CreateGroup(groups.Priority)
	require.NoError(t, err)

	key := ids.StateKey{Primary: 3}
	for slot := ids.SlotIndex(1); slot <= 3; slot++ {
		_, err := a.Submit(reqqueue.StateChangeDesc{TargetSlot: slot, GroupId: gid, Key: key, Value: ids.Int(int64(slot))})
		require.NoError(t, err)
		require.NoError(t, a.Tick())
	}

	v, err := a.QueryState(1, key)
	require.NoError(t, err)
	require.Equal(t, int64(1), v.AsInt())

	seen := make(map[uint64]int64)
	err = a.Reconstruct(1, func(k ids.StateKey, val ids.StateValue) bool {
		seen[k.Hash()] = val.AsInt()
		return true
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), seen[key.Hash()])
}

func TestQueryStateFastPathMatchesCurrentSlot(t *testing.T) {
	a := newTestAxis(t)
	gid, err := a.CreateGroup(groups.Priority)
	require.NoError(t, err)

	key := ids.StateKey{Primary: 9}
	_, err = a.Submit(reqqueue.StateChangeDesc{TargetSlot: 1, GroupId: gid, Key: key, Value: ids.Int(42)})
	require.NoError(t, err)
	require.NoError(t, a.Tick())

	v, err := a.QueryState(a.GetCurrentSlot(), key)
	require.NoError(t, err)
	require.Equal(t, int64(42), v.AsInt())
}

func TestReconstructionKeyChangesAcrossAnchors(t *testing.T) {
	a := newTestAxis(t, axisconfig.WithAnchorInterval(1))
	gid, err := a.CreateGroup(groups.Priority)
	require.NoError(t, err)

	_, err = a.Submit(reqqueue.StateChangeDesc{TargetSlot: 1, GroupId: gid, Key: ids.StateKey{Primary: 1}, Value: ids.Int(1)})
	require.NoError(t, err)
	require.NoError(t, a.Tick())
	key1, err := a.ReconstructionKey(1)
	require.NoError(t, err)

	_, err = a.Submit(reqqueue.StateChangeDesc{TargetSlot: 2, GroupId: gid, Key: ids.StateKey{Primary: 2}, Value: ids.Int(2)})
	require.NoError(t, err)
	require.NoError(t, a.Tick())
	key2, err := a.ReconstructionKey(2)
	require.NoError(t, err)

	require.NotEqual(t, key1.AnchorId, key2.AnchorId)
}

func TestExternalSignalTerminatesAxis(t *testing.T) {
	a := newTestAxis(t, axisconfig.WithTerminationConfig(termination.Config{RequiredExternalFlags: 0x1}))
	_, err := a.CreateGroup(groups.Priority)
	require.NoError(t, err)

	require.False(t, a.IsTerminated())
	a.SetExternalSignal(0x1)
	require.NoError(t, a.Tick())
	require.True(t, a.IsTerminated())
	require.Equal(t, termination.ExternalSignal, a.GetLastTerminationReason())

	require.Error(t, a.Tick())
}

func requireCode(t *testing.T, err error, want axiserr.Code) {
	t.Helper()
	require.Error(t, err)
	code, ok := axiserr.As(err)
	require.True(t, ok)
	require.Equal(t, want, code)
}
