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

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusBroadcast(t *testing.T) {
	now := time.Unix(1672531200, 0)
	bus := NewBus(func() time.Time { return now })

	a := bus.Endpoint("a")
	b := bus.Endpoint("b")
	c := bus.Endpoint("c")

	type rx struct {
		data []byte
		ts   time.Time
	}
	var got []rx
	b.Handle(func(data []byte, ts time.Time) { got = append(got, rx{data, ts}) })
	c.Handle(func(data []byte, ts time.Time) { got = append(got, rx{data, ts}) })

	txTS, err := a.Send([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, now, txTS)

	// the sender never hears its own message
	require.Len(t, got, 2)
	for _, r := range got {
		require.Equal(t, []byte("hello"), r.data)
		require.Equal(t, now, r.ts)
	}
}

func TestBusPropagationDelay(t *testing.T) {
	now := time.Unix(1672531200, 0)
	bus := NewBus(func() time.Time { return now })
	bus.SetPropagationDelay(55 * time.Nanosecond)

	a := bus.Endpoint("a")
	b := bus.Endpoint("b")
	var rxTS time.Time
	b.Handle(func(_ []byte, ts time.Time) { rxTS = ts })

	txTS, err := a.Send([]byte{1})
	require.NoError(t, err)
	require.Equal(t, 55*time.Nanosecond, rxTS.Sub(txTS))
}

func TestBusRelay(t *testing.T) {
	bus := NewBus(nil)
	a := bus.Endpoint("a")
	b := bus.Endpoint("b")

	var got []byte
	b.Handle(func(data []byte, _ time.Time) { got = data })

	bus.SetRelay(func(data []byte) []byte {
		data[0]++
		return data
	})
	_, err := a.Send([]byte{41})
	require.NoError(t, err)
	require.Equal(t, []byte{42}, got)

	// a relay returning nil drops the message
	bus.SetRelay(func([]byte) []byte { return nil })
	_, err = a.Send([]byte{1})
	require.NoError(t, err)
	require.Equal(t, []byte{42}, got)
	require.Equal(t, 1, bus.Dropped())
}

func TestBusClosedEndpoint(t *testing.T) {
	bus := NewBus(nil)
	a := bus.Endpoint("a")
	b := bus.Endpoint("b")

	delivered := 0
	b.Handle(func([]byte, time.Time) { delivered++ })
	require.NoError(t, b.Close())

	_, err := a.Send([]byte{1})
	require.NoError(t, err)
	require.Zero(t, delivered)

	require.NoError(t, a.Close())
	_, err = a.Send([]byte{1})
	require.Error(t, err)
}
