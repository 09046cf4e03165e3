package models

import (
	"encoding/json"
	"net/http"
	"time"
)

// Collection names used in the record store.
const (
	CollectionSyncQueue = "syncQueue"
	CollectionSettings  = "settings"
	CollectionListings  = "listings"
	CollectionCrops     = "crops"
	CollectionPests     = "pests"
)

// Mutation types carried by queue items.
const (
	TypeListingCreate = "listing_create"
	TypeListingUpdate = "listing_update"
	TypeListingDelete = "listing_delete"
	TypeCropUpdate    = "crop_update"
	TypeWeatherUpdate = "weather_update"
	TypeAnalytics     = "analytics"
)

// Queue item actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Queue item statuses. An item only ever moves pending -> synced.
// Exhausted items stay pending so an operator can resync them by hand.
const (
	StatusPending = "pending"
	StatusSynced  = "synced"
	StatusFailed  = "failed"
)

// QueueItem is one locally-recorded mutation awaiting delivery to the
// remote endpoint. Attempts only ever grows; the coordinator is the sole
// writer of the bookkeeping fields.
type QueueItem struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Action      string          `json:"action"`
	Collection  string          `json:"collection"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	LastAttempt *time.Time      `json:"last_attempt,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	SyncedAt    *time.Time      `json:"synced_at,omitempty"`
}

// DeliveryAck is returned by the remote endpoint on successful delivery.
type DeliveryAck struct {
	ServerID string    `json:"server_id"`
	SyncedAt time.Time `json:"synced_at"`
}

// CachedResponse is a stored snapshot of an upstream HTTP response.
// Entries are replaced whole, never merged.
type CachedResponse struct {
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	Body      []byte      `json:"body"`
	Partition string      `json:"partition"`
	StoredAt  time.Time   `json:"stored_at"`
}

// Listing is a local market listing record.
type Listing struct {
	ID         string    `json:"id"`
	Crop       string    `json:"crop"`
	Quantity   float64   `json:"quantity"`
	Unit       string    `json:"unit"`
	PriceCents int64     `json:"price_cents"`
	Location   string    `json:"location"`
	Contact    string    `json:"contact,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SettingLastSync is the settings key recording the end of the last
// completed drain pass, stored as an RFC3339 timestamp.
const SettingLastSync = "lastSync"
