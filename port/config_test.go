/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package port

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigNormalize(t *testing.T) {
	c := Config{PortNumber: 3}
	require.NoError(t, c.Normalize())
	require.Equal(t, DefaultConfig(3), c)

	c = Config{PortNumber: 1, AnnounceInterval: time.Second, DelayMechanism: P2P}
	require.NoError(t, c.Normalize())
	require.Equal(t, time.Second, c.AnnounceInterval)
	require.Equal(t, P2P, c.DelayMechanism)
	require.Equal(t, 5, c.TransportFailureThreshold)
}

func TestConfigNormalizeErrors(t *testing.T) {
	c := Config{}
	require.Error(t, c.Normalize(), "zero port number")

	c = Config{PortNumber: 1, DelayMechanism: "AUTO"}
	require.Error(t, c.Normalize())

	c = Config{PortNumber: 1, SyncInterval: -time.Second}
	require.Error(t, c.Normalize())
}

func TestConfigTimeouts(t *testing.T) {
	c := DefaultConfig(1)
	require.Equal(t, 6*time.Second, c.AnnounceReceiptTimeout())
	require.Equal(t, 3*time.Second, c.SyncReceiptTimeout())
	require.Equal(t, 8*time.Second, c.QualificationWindow())

	c.AnnounceReceiptTimeoutMultiplier = 5
	require.Equal(t, 10*time.Second, c.AnnounceReceiptTimeout())
}
