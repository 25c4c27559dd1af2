package metadata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blues/cfe/internal/config"
	"github.com/blues/cfe/internal/escrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	cid, err := PutCampaign(ctx, s, &Campaign{Title: "Well", Creator: "0xabc", Target: "100"})
	require.NoError(t, err)

	again, err := PutCampaign(ctx, s, &Campaign{Title: "Well", Creator: "0xabc", Target: "100"})
	require.NoError(t, err)
	assert.Equal(t, cid, again, "content addressed")

	got, err := GetCampaign(ctx, s, cid)
	require.NoError(t, err)
	assert.Equal(t, "Well", got.Title)

	_, err = s.Get(ctx, "missing")
	assert.Equal(t, escrow.ExternalUnavailable, escrow.KindOf(err))
}

func TestIPFSPut(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0/add", r.URL.Path)
		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		body, _ := io.ReadAll(file)
		assert.JSONEq(t, `{"k":"v"}`, string(body))
		_ = json.NewEncoder(w).Encode(addResponse{Name: "metadata.json", Hash: "bafytest", Size: "9"})
	}))
	defer api.Close()

	s := NewIPFSStore(api.URL, nil, time.Second)
	cid, err := s.Put(context.Background(), []byte(`{"k":"v"}`))
	require.NoError(t, err)
	assert.Equal(t, "bafytest", cid)
}

func TestIPFSPutUnavailable(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer api.Close()

	_, err := NewIPFSStore(api.URL, nil, time.Second).Put(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, escrow.ErrExternalUnavailable)
}

func TestIPFSGetFallsBackAcrossGateways(t *testing.T) {
	var brokenHits int32
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&brokenHits, 1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer broken.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ipfs/bafyok", r.URL.Path)
		_, _ = w.Write([]byte(`{"title":"Clinic"}`))
	}))
	defer good.Close()

	s := NewIPFSStore("", []string{broken.URL, good.URL + "/"}, time.Second)
	c, err := GetCampaign(context.Background(), s, "bafyok")
	require.NoError(t, err)
	assert.Equal(t, "Clinic", c.Title)
	assert.Equal(t, int32(1), atomic.LoadInt32(&brokenHits))
}

func TestIPFSGetAllGatewaysFail(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer broken.Close()

	s := NewIPFSStore("", []string{broken.URL, broken.URL}, time.Second)
	_, err := s.Get(context.Background(), "bafy")
	assert.ErrorIs(t, err, escrow.ErrExternalUnavailable)

	_, err = s.Get(context.Background(), "")
	assert.ErrorIs(t, err, escrow.ErrExternalUnavailable)
}

func TestGetCampaignRejectsGarbage(t *testing.T) {
	s := NewMemoryStore()
	cid, _ := s.Put(context.Background(), []byte("not json"))
	_, err := GetCampaign(context.Background(), s, cid)
	assert.ErrorIs(t, err, escrow.ErrExternalUnavailable)
}

func TestNew(t *testing.T) {
	s, err := New(config.MetadataConfig{Provider: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(config.MetadataConfig{Provider: "ipfs", Gateways: []string{"https://ipfs.io"}})
	require.NoError(t, err)
	assert.IsType(t, &IPFSStore{}, s)

	_, err = New(config.MetadataConfig{Provider: "s3"})
	assert.Error(t, err)
}
