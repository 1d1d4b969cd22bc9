package explorer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roundkeeper/internal/game"
	"roundkeeper/internal/model"
)

var lswAddress = common.HexToAddress("0xab20e6D156F6F1ea70793a70C01B1a379b603D50")

func TestFetchLogsFollowsPagesAndDecodes(t *testing.T) {
	lsw, err := game.LSWABI()
	require.NoError(t, err)
	topic0 := lsw.Events["RoundEnded"].ID.Hex()

	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.String())
		assert.Equal(t, "/api/v2/addresses/"+lswAddress.Hex()+"/logs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("block_number") == "" {
			fmt.Fprintf(w, `{"items":[{
				"address":{"hash":%q},
				"block_number":120,
				"block_hash":"0x01",
				"data":"0x",
				"index":4,
				"topics":[%q,null,null,null],
				"transaction_hash":"0xabc",
				"decoded":{"method_call":"RoundEnded(uint256 indexed roundId, address indexed winner, uint256 totalAmount)",
					"parameters":[
						{"name":"roundId","type":"uint256","indexed":true,"value":"5"},
						{"name":"winner","type":"address","indexed":true,"value":"0x00000000000000000000000000000000000000aa"},
						{"name":"totalAmount","type":"uint256","indexed":false,"value":"5000"}]}
			}],"next_page_params":{"block_number":119,"index":0,"items_count":50}}`, lswAddress.Hex(), topic0)
			return
		}
		fmt.Fprint(w, `{"items":[],"next_page_params":null}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL + "/", RPS: 1000, MaxPages: 3}, nil)
	require.NoError(t, err)

	entries, err := client.FetchLogs(context.Background(), lswAddress)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1], "block_number=119")

	raw := entries[0]
	assert.Equal(t, model.OriginExplorer, raw.Origin)
	assert.Equal(t, []string{topic0}, raw.Topics)
	assert.Equal(t, uint64(4), raw.LogIndex)

	decoder, err := game.NewDecoder(game.DecoderConfig{})
	require.NoError(t, err)
	ev, err := decoder.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, model.KindRoundEnded, ev.Kind)
	assert.Equal(t, uint64(5), ev.RoundID)
	data, ok := ev.RoundEnded()
	require.True(t, ok)
	assert.Equal(t, "5000", data.TotalAmount.String())
}

func TestFetchLogsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, RPS: 1000}, nil)
	require.NoError(t, err)
	_, err = client.FetchLogs(context.Background(), lswAddress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}
