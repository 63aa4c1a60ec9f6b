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

package axisconfig_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dirpx.dev/timeaxis/axisconfig"
	"dirpx.dev/timeaxis/termination"
)

func TestNormalizeAppliesSpecDefaults(t *testing.T) {
	cfg := axisconfig.New().Normalize()

	require.Equal(t, axisconfig.DefaultMaxPendingRequests, cfg.MaxPendingRequests)
	require.Equal(t, uint64(axisconfig.DefaultAnchorInterval), cfg.AnchorInterval)
	require.Equal(t, axisconfig.DefaultMaxAnchors, cfg.MaxAnchors)
	require.Equal(t, termination.DefaultConfig(), cfg.TerminationConfig)
	require.NotNil(t, cfg.Logger)
}

func TestNormalizePreservesExplicitValues(t *testing.T) {
	cfg := axisconfig.New(
		axisconfig.WithMaxPendingRequests(10),
		axisconfig.WithAnchorInterval(5),
		axisconfig.WithMaxAnchors(2),
		axisconfig.WithTerminationConfig(termination.Config{StepLimit: 3}),
	).Normalize()

	require.Equal(t, 10, cfg.MaxPendingRequests)
	require.Equal(t, uint64(5), cfg.AnchorInterval)
	require.Equal(t, 2, cfg.MaxAnchors)
	require.Equal(t, termination.Config{StepLimit: 3}, cfg.TerminationConfig)
}

func TestWithTerminationConfigZeroValueIsHonored(t *testing.T) {
	// An explicit, fully-off Config{} must not be overwritten by
	// termination.DefaultConfig()'s SafetyCap.
	cfg := axisconfig.New(axisconfig.WithTerminationConfig(termination.Config{})).Normalize()
	require.Equal(t, termination.Config{}, cfg.TerminationConfig)
}

func TestFromEnvReadsOverrides(t *testing.T) {
	t.Setenv("AXIS_MAX_ANCHORS", "8")
	t.Setenv("AXIS_ANCHOR_INTERVAL", "16")

	cfg, err := axisconfig.FromEnv()
	require.NoError(t, err)
	require.Equal(t, 8, cfg.MaxAnchors)
	require.Equal(t, uint64(16), cfg.AnchorInterval)
}
