// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/plugin"
)

const sessionsXML = `<?xml version="1.0" encoding="UTF-8"?>
<MediaContainer size="3">
  <Video sessionKey="12" title="Pilot" grandparentTitle="Some Show" type="episode">
    <Media bitrate="8000"><Part bitrate="7900"/></Media>
    <User title="alice"/>
    <Player address="203.0.113.5" state="playing" title="Living Room TV"/>
  </Video>
  <Track sessionKey="13" title="Song">
    <Media><Part bitrate="320"/></Media>
    <User title="bob"/>
    <Player address="192.168.1.20" state="playing" title="Phone"/>
  </Track>
  <Video sessionKey="14" title="Paused Movie">
    <Media bitrate="4000"/>
    <User title="carol"/>
    <Player address="198.51.100.7" state="paused" title="Laptop"/>
  </Video>
</MediaContainer>`

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(domain.MediaServerInstance{ID: "plex", Type: domain.MediaServerPlex, URL: srv.URL + "/", Token: "tok"}, plugin.Deps{})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(domain.MediaServerInstance{ID: "plex", URL: "http://plex"}, plugin.Deps{})
	require.ErrorIs(t, err, domain.ErrInvalidInstance)
}

func TestActiveSessions(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status/sessions", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("X-Plex-Token"))
		_, _ = w.Write([]byte(sessionsXML))
	})

	sessions, err := c.ActiveSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, domain.PlaybackSession{
		SessionID:        "12",
		UserName:         "alice",
		ItemName:         "Some Show - Pilot",
		ClientIP:         "203.0.113.5",
		DeviceName:       "Living Room TV",
		MediaBitrateKbps: 8000,
	}, sessions[0])
	assert.Equal(t, "13", sessions[1].SessionID)
	assert.Equal(t, int64(320), sessions[1].MediaBitrateKbps)
	assert.Equal(t, "Song", sessions[1].ItemName)
}

func TestActiveSessions_HTTPError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.ActiveSessions(context.Background())
	require.Error(t, err)
}

func TestTestConnection(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<MediaContainer friendlyName="Basement" version="1.41.0"/>`))
	})

	msg, err := c.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Connected to Basement (1.41.0)", msg)
}

func TestTestConnection_Unauthorized(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.TestConnection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "X-Plex-Token")
}

func TestNetworkSpeeds(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status/sessions":
			_, _ = w.Write([]byte(sessionsXML))
		case "/statistics/bandwidth":
			assert.Equal(t, "6", r.URL.Query().Get("timespan"))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"MediaContainer":{
				"Device":[{"id":1,"name":"Living Room TV"},{"id":2,"name":"Phone"},{"id":3,"name":"Tablet"}],
				"Account":[{"id":10,"name":"alice"},{"id":20,"name":"bob"}],
				"StatisticsBandwidth":[
					{"accountID":10,"deviceID":1,"timespan":6,"at":%[1]d,"bytes":6144000},
					{"accountID":10,"deviceID":1,"timespan":6,"at":%[1]d,"bytes":3072000},
					{"accountID":20,"deviceID":2,"timespan":6,"at":%[1]d,"bytes":61440},
					{"accountID":20,"deviceID":3,"timespan":6,"at":%[1]d,"bytes":122880},
					{"accountID":20,"deviceID":2,"timespan":6,"at":%[2]d,"bytes":999999999},
					{"accountID":20,"deviceID":0,"timespan":6,"at":%[1]d,"bytes":1000}
				]}}`, now.Unix()-2, now.Unix()-60)
		}
	})
	c.now = func() time.Time { return now }

	speeds, err := c.NetworkSpeeds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SpeedKindBandwidth, speeds.Kind)
	require.Len(t, speeds.Sessions, 2)

	alice := speeds.Sessions[0]
	assert.Equal(t, "alice", alice.UserName)
	assert.Equal(t, "Some Show - Pilot", alice.ItemName)
	assert.Equal(t, "Living Room TV", alice.DeviceName)
	assert.InDelta(t, 750.0, alice.Rate, 0.01)
	assert.Equal(t, int64(8000), alice.MediaBitrateKbps)

	// two small streams are summed
	bob := speeds.Sessions[1]
	assert.Equal(t, "bob", bob.UserName)
	assert.InDelta(t, 30.0, bob.Rate, 0.01)
	assert.Equal(t, "Tablet", bob.DeviceName)

	assert.InDelta(t, 780.0, speeds.Total, 0.01)
}

func TestNetworkSpeeds_NoSessions(t *testing.T) {
	calls := 0
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`<MediaContainer size="0"/>`))
	})

	speeds, err := c.NetworkSpeeds(context.Background())
	require.NoError(t, err)
	assert.Zero(t, speeds.Total)
	assert.Empty(t, speeds.Sessions)
	assert.Equal(t, 1, calls)
}

func TestMergeBandwidth_MainStreamWins(t *testing.T) {
	now := time.Unix(1000, 0)
	samples := []bandwidthSample{
		{AccountID: 1, DeviceID: 1, Timespan: 6, At: 999, Bytes: 6 * 1024 * 500},
		{AccountID: 1, DeviceID: 2, Timespan: 6, At: 999, Bytes: 6 * 1024 * 20},
	}
	out := mergeBandwidth(&domain.NetworkSpeeds{}, samples, map[int64]string{1: "TV", 2: "Phone"}, map[int64]string{1: "dave"}, nil, now)

	require.Len(t, out.Sessions, 1)
	assert.InDelta(t, 500.0, out.Sessions[0].Rate, 0.01)
	assert.Equal(t, "TV", out.Sessions[0].ItemName)
}
