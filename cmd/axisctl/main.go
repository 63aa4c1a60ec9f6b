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

// Command axisctl drives a single in-process time axis for manual testing
// and demonstration: submit a batch of synthetic requests, tick it forward,
// inspect its current stats, or reconstruct an arbitrary past slot.
//
// axisctl never talks to a running service over the network — there is no
// axis server in this spec, only the library. Each subcommand builds its
// own *axis.Axis, drives it, and prints the result.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	axis "dirpx.dev/timeaxis"
	"dirpx.dev/timeaxis/axisconfig"
	"dirpx.dev/timeaxis/groups"
	"dirpx.dev/timeaxis/ids"
	"dirpx.dev/timeaxis/reqqueue"
	"dirpx.dev/timeaxis/termination"
)

var (
	flagTicks       int
	flagRequests    int
	flagAnchorEvery uint64
	flagStepLimit   uint64
	flagTargetSlot  uint64
	flagGroupPolicy string
)

// flagReconstructAnchorEvery is separate from flagAnchorEvery because
// defining a flag writes its default into the bound variable.
var flagReconstructAnchorEvery uint64

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "axisctl",
		Short: "Drive a time axis engine for manual testing and demos",
		Long: `axisctl builds a single in-process axis, feeds it synthetic
state-change requests, and ticks it forward so you can watch conflict
resolution, anchoring, and termination without writing a Go program.`,
	}
	root.AddCommand(newRunCmd(), newInspectCmd(), newReconstructCmd())
	return root
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit synthetic requests and tick an axis forward",
		RunE:  runRun,
	}
	cmd.Flags().IntVar(&flagTicks, "ticks", 10, "number of ticks to advance")
	cmd.Flags().IntVar(&flagRequests, "requests-per-tick", 4, "synthetic requests submitted before each tick")
	cmd.Flags().Uint64Var(&flagAnchorEvery, "anchor-interval", axisconfig.DefaultAnchorInterval, "slots between anchors")
	cmd.Flags().Uint64Var(&flagStepLimit, "step-limit", 0, "terminate once this many slots have elapsed (0 disables)")
	cmd.Flags().StringVar(&flagGroupPolicy, "group-policy", "priority", "conflict policy for the demo group: priority, last-writer, or first-writer")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Run a short demo axis and print its stats and termination state",
		RunE:  runInspect,
	}
}

func newReconstructCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Run a demo axis past several anchors, then reconstruct an earlier slot",
		RunE:  runReconstruct,
	}
	cmd.Flags().Uint64Var(&flagTargetSlot, "target-slot", 1, "slot to reconstruct")
	cmd.Flags().Uint64Var(&flagReconstructAnchorEvery, "anchor-interval", 2, "slots between anchors")
	return cmd
}

func parseGroupPolicy(name string) (groups.Policy, error) {
	switch name {
	case "priority":
		return groups.Priority, nil
	case "last-writer":
		return groups.LastWriter, nil
	case "first-writer":
		return groups.FirstWriter, nil
	default:
		return 0, fmt.Errorf("unknown group policy %q (want priority, last-writer, or first-writer)", name)
	}
}

func buildDemoAxis(logger *slog.Logger, anchorInterval, stepLimit uint64) (*axis.Axis, ids.GroupId, error) {
	cfg := axisconfig.New(
		axisconfig.WithAnchorInterval(anchorInterval),
		axisconfig.WithLogger(logger),
	)
	if stepLimit > 0 {
		cfg = axisconfig.New(
			axisconfig.WithAnchorInterval(anchorInterval),
			axisconfig.WithLogger(logger),
			axisconfig.WithTerminationConfig(stepLimitConfig(stepLimit)),
		)
	}

	a, err := axis.Create(cfg.Normalize())
	if err != nil {
		return nil, 0, fmt.Errorf("create axis: %w", err)
	}

	policy, err := parseGroupPolicy(flagGroupPolicy)
	if err != nil {
		a.Destroy()
		return nil, 0, err
	}
	gid, err := a.CreateGroup(policy)
	if err != nil {
		a.Destroy()
		return nil, 0, fmt.Errorf("create group: %w", err)
	}
	return a, gid, nil
}

// submitDemoRequests submits n synthetic requests into the group targeting
// the next slot, each writing a distinct key so conflicts only arise when
// two requests share a key on purpose (request index 0 always collides with
// request index 1, to give the configured policy something to resolve).
func submitDemoRequests(a *axis.Axis, gid ids.GroupId, n int) error {
	target := a.GetCurrentSlot() + 1
	contestedKey := ids.StateKey{Primary: 1}
	for i := 0; i < n; i++ {
		key := contestedKey
		if i >= 2 {
			key = ids.StateKey{Primary: uint64(i)}
		}
		_, err := a.Submit(reqqueue.StateChangeDesc{
			TargetSlot:   target,
			GroupId:      gid,
			Priority:     int32(i),
			Key:          key,
			MutationType: reqqueue.Set,
			Value:        ids.Int(int64(i)),
		})
		if err != nil {
			return fmt.Errorf("submit request %d: %w", i, err)
		}
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	a, gid, err := buildDemoAxis(logger, flagAnchorEvery, flagStepLimit)
	if err != nil {
		return err
	}
	defer a.Destroy()

	for i := 0; i < flagTicks; i++ {
		if a.IsTerminated() {
			fmt.Fprintf(cmd.OutOrStdout(), "terminated at slot %d, reason=%v\n", a.GetCurrentSlot(), a.GetLastTerminationReason())
			break
		}
		if err := submitDemoRequests(a, gid, flagRequests); err != nil {
			return err
		}
		if err := a.Tick(); err != nil {
			return fmt.Errorf("tick %d: %w", i, err)
		}
		stats := a.GetStats()
		fmt.Fprintf(cmd.OutOrStdout(), "slot=%d requests=%d conflicts=%d\n", a.GetCurrentSlot(), stats.TotalRequestsProcessed, stats.TotalConflictsResolved)
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	a, gid, err := buildDemoAxis(logger, axisconfig.DefaultAnchorInterval, 0)
	if err != nil {
		return err
	}
	defer a.Destroy()

	for i := 0; i < 5; i++ {
		if err := submitDemoRequests(a, gid, 3); err != nil {
			return err
		}
		if err := a.Tick(); err != nil {
			return err
		}
	}

	stats := a.GetStats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "current_slot: %d\n", a.GetCurrentSlot())
	fmt.Fprintf(out, "oldest_reconstructible_slot: %d\n", a.GetOldestReconstructibleSlot())
	fmt.Fprintf(out, "total_requests_processed: %d\n", stats.TotalRequestsProcessed)
	fmt.Fprintf(out, "total_conflicts_resolved: %d\n", stats.TotalConflictsResolved)
	fmt.Fprintf(out, "active_conflict_groups: %d\n", stats.ActiveConflictGroups)
	fmt.Fprintf(out, "current_anchor_count: %d\n", stats.CurrentAnchorCount)
	fmt.Fprintf(out, "memory_usage_bytes: %d\n", stats.MemoryUsageBytes)
	fmt.Fprintf(out, "terminated: %v\n", a.IsTerminated())
	fmt.Fprintf(out, "termination_policy_hash: %#x\n", a.GetTerminationPolicyHash())
	return nil
}

func runReconstruct(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	a, gid, err := buildDemoAxis(logger, flagReconstructAnchorEvery, 0)
	if err != nil {
		return err
	}
	defer a.Destroy()

	ticks := int(flagTargetSlot) + int(flagReconstructAnchorEvery)*2
	for i := 0; i < ticks; i++ {
		if err := submitDemoRequests(a, gid, 3); err != nil {
			return err
		}
		if err := a.Tick(); err != nil {
			return err
		}
	}

	target := ids.SlotIndex(flagTargetSlot)
	out := cmd.OutOrStdout()
	err = a.Reconstruct(target, func(key ids.StateKey, value ids.StateValue) bool {
		fmt.Fprintf(out, "slot=%d key=%v value=%d\n", target, key, value.AsInt())
		return true
	})
	if err != nil {
		return fmt.Errorf("reconstruct slot %d: %w", target, err)
	}

	key, err := a.ReconstructionKey(target)
	if err != nil {
		return fmt.Errorf("reconstruction key for slot %d: %w", target, err)
	}
	fmt.Fprintf(out, "reconstruction_key: anchor=%d transition_hash=%x policy_hash=%x\n", key.AnchorId, key.TransitionHash, key.PolicyHash)
	return nil
}

func stepLimitConfig(limit uint64) termination.Config {
	return termination.Config{StepLimit: limit}
}
