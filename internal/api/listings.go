package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"agrosync/internal/models"
	"agrosync/internal/queue"
	"agrosync/internal/store"

	"github.com/google/uuid"
)

// Listings are written to the local store first; the mutation is then
// enqueued for delivery, so the app keeps working offline.

func (s *HTTPServer) handleListings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listListings(w, r)
	case http.MethodPost:
		s.createListing(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleListing(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/listings/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "listing id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getListing(w, r, id)
	case http.MethodPut:
		s.updateListing(w, r, id)
	case http.MethodDelete:
		s.deleteListing(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) listListings(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.GetAll(r.Context(), models.CollectionListings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load listings")
		return
	}

	listings := make([]models.Listing, 0, len(docs))
	for _, doc := range docs {
		var l models.Listing
		if err := json.Unmarshal(doc, &l); err != nil {
			continue
		}
		listings = append(listings, l)
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *HTTPServer) getListing(w http.ResponseWriter, r *http.Request, id string) {
	var l models.Listing
	err := s.store.Get(r.Context(), models.CollectionListings, id, &l)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load listing")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *HTTPServer) createListing(w http.ResponseWriter, r *http.Request) {
	var l models.Listing
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing payload")
		return
	}
	if l.Crop == "" {
		writeError(w, http.StatusBadRequest, "crop is required")
		return
	}

	now := time.Now()
	l.ID = uuid.NewString()
	l.CreatedAt = now
	l.UpdatedAt = now

	if err := s.store.Add(r.Context(), models.CollectionListings, l.ID, l); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store listing")
		return
	}

	if err := s.enqueueListing(r, models.TypeListingCreate, models.ActionCreate, l); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to queue listing for sync")
		return
	}

	writeJSON(w, http.StatusCreated, l)
}

func (s *HTTPServer) updateListing(w http.ResponseWriter, r *http.Request, id string) {
	var existing models.Listing
	err := s.store.Get(r.Context(), models.CollectionListings, id, &existing)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load listing")
		return
	}

	var l models.Listing
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing payload")
		return
	}

	l.ID = id
	l.CreatedAt = existing.CreatedAt
	l.UpdatedAt = time.Now()

	if err := s.store.Put(r.Context(), models.CollectionListings, id, l); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store listing")
		return
	}

	if err := s.enqueueListing(r, models.TypeListingUpdate, models.ActionUpdate, l); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to queue listing for sync")
		return
	}

	writeJSON(w, http.StatusOK, l)
}

func (s *HTTPServer) deleteListing(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.Delete(r.Context(), models.CollectionListings, id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete listing")
		return
	}

	if err := s.enqueueListing(r, models.TypeListingDelete, models.ActionDelete, models.Listing{ID: id}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to queue listing for sync")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *HTTPServer) enqueueListing(r *http.Request, mutationType, action string, l models.Listing) error {
	payload, err := json.Marshal(l)
	if err != nil {
		return err
	}

	_, err = s.coordinator.Enqueue(r.Context(), queue.Descriptor{
		Type:       mutationType,
		Action:     action,
		Collection: models.CollectionListings,
		Payload:    payload,
	})
	return err
}
