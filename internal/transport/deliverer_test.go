package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agrosync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testItem() *models.QueueItem {
	return &models.QueueItem{
		ID:         "item-1",
		Type:       models.TypeListingCreate,
		Action:     models.ActionCreate,
		Collection: models.CollectionListings,
		Payload:    json.RawMessage(`{"crop":"maize"}`),
		Status:     models.StatusPending,
		CreatedAt:  time.Now(),
	}
}

func newDeliverer(baseURL string, timeout time.Duration) *HTTPDeliverer {
	logger := zerolog.Nop()
	return NewHTTPDeliverer(baseURL, "/api/sync", timeout, &logger)
}

func TestDeliverSuccess(t *testing.T) {
	var gotItem models.QueueItem
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/sync", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotItem))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.DeliveryAck{ServerID: "srv-42", SyncedAt: time.Now()})
	}))
	defer srv.Close()

	d := newDeliverer(srv.URL, 5*time.Second)
	ack, err := d.Deliver(context.Background(), testItem())
	require.NoError(t, err)
	assert.Equal(t, "srv-42", ack.ServerID)
	assert.False(t, ack.SyncedAt.IsZero())
	assert.Equal(t, "item-1", gotItem.ID)
}

func TestDeliverSuccessWithBadAckBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	d := newDeliverer(srv.URL, 5*time.Second)
	ack, err := d.Deliver(context.Background(), testItem())
	require.NoError(t, err)
	assert.False(t, ack.SyncedAt.IsZero())
}

func TestDeliverClassifiesDataErrors(t *testing.T) {
	tests := []struct {
		status int
		kind   string
	}{
		{http.StatusUnprocessableEntity, KindValidation},
		{http.StatusBadRequest, KindValidation},
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
	}

	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		d := newDeliverer(srv.URL, 5*time.Second)
		_, err := d.Deliver(context.Background(), testItem())
		srv.Close()

		require.Error(t, err)
		assert.False(t, IsTransport(err), "status %d must not be transport-class", tc.status)

		var de *DataError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, tc.kind, de.Kind)
		assert.Equal(t, tc.status, de.Status)
	}
}

func TestDeliverClassifiesServerErrorAsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newDeliverer(srv.URL, 5*time.Second)
	_, err := d.Deliver(context.Background(), testItem())
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestDeliverClassifiesUnreachableAsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // deliberately down

	d := newDeliverer(srv.URL, time.Second)
	_, err := d.Deliver(context.Background(), testItem())
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindNetwork, te.Kind)
}

func TestDeliverClassifiesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	d := newDeliverer(srv.URL, 20*time.Millisecond)
	_, err := d.Deliver(context.Background(), testItem())
	require.Error(t, err)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindTimeout, te.Kind)
}
