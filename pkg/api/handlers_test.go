package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	apimocks "github.com/goran-ethernal/ChainMapper/internal/api/mocks"
	"github.com/goran-ethernal/ChainMapper/internal/dbtest"
	"github.com/goran-ethernal/ChainMapper/internal/dynamicds"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/internal/poi"
	internalstore "github.com/goran-ethernal/ChainMapper/internal/store"
	"github.com/goran-ethernal/ChainMapper/pkg/fetcher"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
	"github.com/goran-ethernal/ChainMapper/pkg/store"
	"github.com/stretchr/testify/require"
)

const testManifest = `
specVersion: 1.0.0
name: api-test
dataSources:
  - name: tokens
    kind: ethereum/Runtime
    startBlock: 2
    mapping:
      file: ./dist/index.js
      handlers:
        - kind: ethereum/LogHandler
          handler: handleTransfer
          filter:
            topics: ["Transfer(address,address,uint256)"]
    options:
      address: "0x00000000000000000000000000000000000000aa"
`

type testBackend struct {
	Backend
	status *apimocks.StatusProvider
	store  *internalstore.Store
	ledger *poi.Ledger
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	log := logger.NewNopLogger()
	database := dbtest.NewTestDB(t, "api.sqlite")

	m, err := project.ParseManifest([]byte(testManifest))
	require.NoError(t, err)

	b := &testBackend{
		status: apimocks.NewStatusProvider(t),
		store:  internalstore.New(database, 16, log),
		ledger: poi.NewLedger(database, log),
	}
	b.Backend = Backend{
		Status:      b.status,
		Ledger:      b.ledger,
		Datasources: dynamicds.New(m, log),
		Entities:    b.store,
	}
	return b
}

// commit writes height with its mutations and ledger record in one batch.
func (b *testBackend) commit(t *testing.T, height uint64, mutations ...store.Mutation) {
	t.Helper()

	batch, err := b.store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, batch.ApplyMutations(height, mutations))
	_, err = b.ledger.AppendTx(batch.Tx(), height, poi.Digest(height, common.Hash{byte(height)}, nil))
	require.NoError(t, err)
	require.NoError(t, batch.SetCheckpoint(height, common.Hash{byte(height)}))
	require.NoError(t, batch.Commit())
}

func account(id, owner string) store.Mutation {
	return store.Mutation{Op: store.OpSet, Entity: "Account", ID: id, Data: map[string]any{"owner": owner}}
}

func serve(h http.HandlerFunc, pattern, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestRespondJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		status         int
		data           any
		expectedBody   string
		expectedStatus int
	}{
		{
			name:           "success with simple data",
			status:         http.StatusOK,
			data:           map[string]string{"message": "success"},
			expectedBody:   `{"message":"success"}`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "success with nil",
			status:         http.StatusOK,
			data:           nil,
			expectedBody:   "null",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "error status",
			status:         http.StatusBadRequest,
			data:           map[string]string{"error": "bad request"},
			expectedBody:   `{"error":"bad request"}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			respondJSON(w, tt.status, tt.data)

			require.Equal(t, tt.expectedStatus, w.Code)
			require.Equal(t, "application/json", w.Header().Get("Content-Type"))
			require.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}

func TestRespondJSON_EncodingError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()

	// Channel cannot be JSON encoded
	respondJSON(w, http.StatusOK, make(chan int))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "Failed to encode response")
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		status         fetcher.Status
		expectedCode   int
		expectedStatus string
	}{
		{
			name:           "running",
			status:         fetcher.Status{Mode: fetcher.ModeLive, LastProcessed: 42, HasProcessed: true},
			expectedCode:   http.StatusOK,
			expectedStatus: "ok",
		},
		{
			name:           "stalled",
			status:         fetcher.Status{Mode: fetcher.ModeBackfill, LastProcessed: 7, HasProcessed: true, Stalled: true},
			expectedCode:   http.StatusServiceUnavailable,
			expectedStatus: "stalled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := newTestBackend(t)
			b.status.EXPECT().Status().Return(tt.status)

			w := serve(NewHandler(b.Backend, logger.NewNopLogger()).Health, "GET /health", "/health")
			require.Equal(t, tt.expectedCode, w.Code)

			var response HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			require.Equal(t, tt.expectedStatus, response.Status)
			require.Equal(t, tt.status.LastProcessed, response.LastProcessed)
			require.Equal(t, tt.status.Mode.String(), response.Mode)
		})
	}
}

func TestHandler_GetStatus(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	status := fetcher.Status{
		Mode:            fetcher.ModeBackfill,
		LastProcessed:   10,
		HasProcessed:    true,
		NextHeight:      11,
		FinalizedHeight: 500,
		QueueSize:       3,
		Dictionary:      true,
	}
	b.status.EXPECT().Status().Return(status)

	w := serve(NewHandler(b.Backend, logger.NewNopLogger()).GetStatus, "GET /api/v1/status", "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)

	var got fetcher.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, status, got)
}

func TestHandler_POI(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	h := NewHandler(b.Backend, logger.NewNopLogger())

	w := serve(h.GetLatestPOI, "GET /api/v1/poi", "/api/v1/poi")
	require.Equal(t, http.StatusNotFound, w.Code)

	for height := uint64(1); height <= 5; height++ {
		b.commit(t, height)
	}

	t.Run("latest", func(t *testing.T) {
		w := serve(h.GetLatestPOI, "GET /api/v1/poi", "/api/v1/poi")
		require.Equal(t, http.StatusOK, w.Code)

		var rec poi.Record
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
		require.Equal(t, uint64(5), rec.Height)
		require.Equal(t, uint64(4), rec.LeafIndex)
	})

	t.Run("inclusion proof verifies", func(t *testing.T) {
		w := serve(h.GetPOI, "GET /api/v1/poi/{height}", "/api/v1/poi/3")
		require.Equal(t, http.StatusOK, w.Code)

		var inclusion poi.Inclusion
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inclusion))
		require.Equal(t, uint64(3), inclusion.Record.Height)
		require.Equal(t, uint64(5), inclusion.Tip.Height)
		require.True(t, poi.VerifyProof(inclusion.Tip.Root, inclusion.Record.Digest, inclusion.Proof))
	})

	t.Run("unknown height", func(t *testing.T) {
		w := serve(h.GetPOI, "GET /api/v1/poi/{height}", "/api/v1/poi/99")
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid height", func(t *testing.T) {
		w := serve(h.GetPOI, "GET /api/v1/poi/{height}", "/api/v1/poi/abc")
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_ListDatasources(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		target        string
		nextHeight    uint64
		expectedCode  int
		expectedCount int
	}{
		{name: "defaults to next height", target: "/api/v1/datasources", nextHeight: 3, expectedCode: http.StatusOK, expectedCount: 1},
		{name: "before start block", target: "/api/v1/datasources?height=1", expectedCode: http.StatusOK, expectedCount: 0},
		{name: "explicit height", target: "/api/v1/datasources?height=2", expectedCode: http.StatusOK, expectedCount: 1},
		{name: "invalid height", target: "/api/v1/datasources?height=-1", expectedCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := newTestBackend(t)
			b.status.EXPECT().Status().Return(fetcher.Status{NextHeight: tt.nextHeight})

			w := serve(NewHandler(b.Backend, logger.NewNopLogger()).ListDatasources, "GET /api/v1/datasources", tt.target)
			require.Equal(t, tt.expectedCode, w.Code)
			if tt.expectedCode != http.StatusOK {
				return
			}

			var infos []DatasourceInfo
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &infos))
			require.Len(t, infos, tt.expectedCount)
			if tt.expectedCount > 0 {
				require.Equal(t, "tokens", infos[0].Name)
				require.Equal(t, "0x00000000000000000000000000000000000000aa", infos[0].Address)
				require.Equal(t, []string{"handleTransfer"}, infos[0].Handlers)
			}
		})
	}
}

func TestHandler_Entities(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	h := NewHandler(b.Backend, logger.NewNopLogger())

	b.commit(t, 1, account("a", "alice"), account("b", "bob"))
	b.commit(t, 2, account("a", "carol"))

	t.Run("latest value", func(t *testing.T) {
		w := serve(h.GetEntity, "GET /api/v1/entities/{entity}/{id}", "/api/v1/entities/Account/a")
		require.Equal(t, http.StatusOK, w.Code)

		var response EntityResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Equal(t, "carol", response.Data["owner"])
	})

	t.Run("value at height", func(t *testing.T) {
		w := serve(h.GetEntity, "GET /api/v1/entities/{entity}/{id}", "/api/v1/entities/Account/a?height=1")
		require.Equal(t, http.StatusOK, w.Code)

		var response EntityResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Equal(t, "alice", response.Data["owner"])
	})

	t.Run("missing entity", func(t *testing.T) {
		w := serve(h.GetEntity, "GET /api/v1/entities/{entity}/{id}", "/api/v1/entities/Account/zed")
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list", func(t *testing.T) {
		w := serve(h.ListEntities, "GET /api/v1/entities/{entity}", "/api/v1/entities/Account?limit=10")
		require.Equal(t, http.StatusOK, w.Code)

		var response EntityListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Equal(t, 2, response.Count)
		require.Equal(t, "bob", response.Items["b"]["owner"])
	})

	t.Run("invalid limit", func(t *testing.T) {
		w := serve(h.ListEntities, "GET /api/v1/entities/{entity}", "/api/v1/entities/Account?limit=0")
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
