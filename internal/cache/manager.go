package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agrosync/internal/metrics"
	"agrosync/internal/models"

	"github.com/rs/zerolog"
)

// Partition base names. Versioned names come from partitionName so a
// version bump retires the whole set at activation.
const (
	partitionStatic  = "static"
	partitionAPI     = "api"
	partitionImages  = "images"
	partitionDynamic = "dynamic"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="120" height="120" viewBox="0 0 120 120"><rect width="120" height="120" fill="#e8e8e3"/><path d="M60 34a14 14 0 0 1 14 14v6h6l-20 26-20-26h6v-6a14 14 0 0 1 14-14z" fill="#b5b5ac"/></svg>`

const defaultOfflinePage = `<!doctype html><html><head><meta charset="utf-8"><title>Offline</title></head><body><h1>You are offline</h1><p>This page is not available without a connection. Your changes are saved locally and will sync once you are back online.</p></body></html>`

// Manager applies a per-resource-class caching strategy to proxied
// requests, serving from named partitions when the network is down.
type Manager struct {
	store       PartitionStore
	classifier  *Classifier
	upstream    string
	client      *http.Client
	version     string
	offlinePage []byte
	static      []string
	logger      *zerolog.Logger
}

func NewManager(store PartitionStore, classifier *Classifier, upstream, version string, staticAssets []string, offlinePage []byte, rt http.RoundTripper, logger *zerolog.Logger) *Manager {
	if len(offlinePage) == 0 {
		offlinePage = []byte(defaultOfflinePage)
	}
	return &Manager{
		store:       store,
		classifier:  classifier,
		upstream:    strings.TrimRight(upstream, "/"),
		client:      &http.Client{Transport: rt, Timeout: 15 * time.Second},
		version:     version,
		offlinePage: offlinePage,
		static:      staticAssets,
		logger:      logger,
	}
}

func (m *Manager) partitionName(base string) string {
	return fmt.Sprintf("%s-%s", base, m.version)
}

// cacheKey normalizes request identity. Only GETs are cached, so the
// method is part of the key purely for readability in the store.
func cacheKey(r *http.Request) string {
	return r.Method + " " + r.URL.RequestURI()
}

// Precache fetches every configured static asset into the static
// partition as one all-or-nothing batch. Any fetch failure aborts with
// nothing stored, matching install-time semantics.
func (m *Manager) Precache(ctx context.Context) error {
	type fetched struct {
		key  string
		resp *models.CachedResponse
	}

	batch := make([]fetched, 0, len(m.static))
	for _, asset := range m.static {
		resp, err := m.fetch(ctx, http.MethodGet, asset, nil)
		if err != nil {
			return fmt.Errorf("precache %s: %w", asset, err)
		}
		if resp.Status != http.StatusOK {
			return fmt.Errorf("precache %s: upstream returned status %d", asset, resp.Status)
		}
		batch = append(batch, fetched{key: http.MethodGet + " " + asset, resp: resp})
	}

	partition := m.partitionName(partitionStatic)
	for _, f := range batch {
		f.resp.Partition = partition
		if err := m.store.Put(ctx, partition, f.key, f.resp); err != nil {
			return fmt.Errorf("precache store: %w", err)
		}
	}

	m.logger.Info().Int("assets", len(batch)).Str("partition", partition).Msg("Static assets precached")
	return nil
}

// Install precaches the static assets and, only when the whole batch
// landed, migrates partitions. A failed precache leaves every existing
// partition in place so previously cached versions keep serving.
func (m *Manager) Install(ctx context.Context) error {
	if err := m.Precache(ctx); err != nil {
		return err
	}
	return m.Activate(ctx)
}

// Activate deletes any partition outside the recognized set for the
// current version.
func (m *Manager) Activate(ctx context.Context) error {
	recognized := map[string]struct{}{
		m.partitionName(partitionStatic):  {},
		m.partitionName(partitionAPI):     {},
		m.partitionName(partitionImages):  {},
		m.partitionName(partitionDynamic): {},
	}

	names, err := m.store.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}

	for _, name := range names {
		if _, ok := recognized[name]; ok {
			continue
		}
		removed, err := m.store.DeletePartition(ctx, name)
		if err != nil {
			return fmt.Errorf("delete stale partition %s: %w", name, err)
		}
		m.logger.Info().Str("partition", name).Int("entries", removed).Msg("Stale cache partition removed")
	}
	return nil
}

func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	strategy := m.classifier.Classify(r)

	switch strategy {
	case StrategyBypass:
		m.passthrough(w, r)
	case StrategyAPI:
		m.networkFirst(w, r, strategy, m.partitionName(partitionAPI), m.offlineJSON)
	case StrategyImage:
		m.cacheFirst(w, r, strategy, m.partitionName(partitionImages), m.placeholderImage)
	case StrategyHTML:
		m.networkFirst(w, r, strategy, m.partitionName(partitionDynamic), m.offlineDocument)
	case StrategyStatic:
		m.cacheFirst(w, r, strategy, m.partitionName(partitionStatic), m.unavailable)
	default:
		m.networkFirst(w, r, strategy, m.partitionName(partitionDynamic), m.unavailable)
	}
}

// passthrough forwards without touching any partition.
func (m *Manager) passthrough(w http.ResponseWriter, r *http.Request) {
	resp, err := m.fetchRequest(r)
	if err != nil {
		metrics.IncCache(string(StrategyBypass), "error")
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	metrics.IncCache(string(StrategyBypass), "network")
	writeSnapshot(w, resp, false)
}

// networkFirst tries the network, stores a copy on success, and degrades
// to the partition and then to a synthesized fallback.
func (m *Manager) networkFirst(w http.ResponseWriter, r *http.Request, strategy Strategy, partition string, fallback func(http.ResponseWriter, *http.Request)) {
	key := cacheKey(r)

	resp, err := m.fetchRequest(r)
	if err == nil {
		if resp.Status == http.StatusOK {
			resp.Partition = partition
			if perr := m.store.Put(r.Context(), partition, key, resp); perr != nil {
				m.logger.Warn().Err(perr).Str("key", key).Msg("Cache store failed")
			}
		}
		metrics.IncCache(string(strategy), "network")
		writeSnapshot(w, resp, false)
		return
	}

	cached, cerr := m.store.Get(r.Context(), partition, key)
	if cerr == nil && cached != nil {
		metrics.IncCache(string(strategy), "offline_hit")
		writeSnapshot(w, cached, true)
		return
	}

	metrics.IncCache(string(strategy), "offline_miss")
	fallback(w, r)
}

// cacheFirst serves the partition and only reaches for the network on a
// miss. A matching entry never triggers a network request.
func (m *Manager) cacheFirst(w http.ResponseWriter, r *http.Request, strategy Strategy, partition string, fallback func(http.ResponseWriter, *http.Request)) {
	key := cacheKey(r)

	cached, err := m.store.Get(r.Context(), partition, key)
	if err == nil && cached != nil {
		metrics.IncCache(string(strategy), "hit")
		writeSnapshot(w, cached, false)
		return
	}

	resp, ferr := m.fetchRequest(r)
	if ferr == nil {
		if resp.Status == http.StatusOK {
			resp.Partition = partition
			if perr := m.store.Put(r.Context(), partition, key, resp); perr != nil {
				m.logger.Warn().Err(perr).Str("key", key).Msg("Cache store failed")
			}
		}
		metrics.IncCache(string(strategy), "miss")
		writeSnapshot(w, resp, false)
		return
	}

	metrics.IncCache(string(strategy), "offline_miss")
	fallback(w, r)
}

func (m *Manager) fetchRequest(r *http.Request) (*models.CachedResponse, error) {
	return m.fetch(r.Context(), r.Method, r.URL.RequestURI(), r.Body)
}

func (m *Manager) fetch(ctx context.Context, method, uri string, body io.Reader) (*models.CachedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, m.upstream+uri, body)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	return &models.CachedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     data,
		StoredAt: time.Now(),
	}, nil
}

func writeSnapshot(w http.ResponseWriter, resp *models.CachedResponse, offline bool) {
	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if offline {
		w.Header().Set("X-Offline", "1")
	}
	w.WriteHeader(resp.Status)
	_, _ = io.Copy(w, bytes.NewReader(resp.Body))
}

func (m *Manager) offlineJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Offline", "1")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = fmt.Fprintf(w, `{"status":"offline","message":"no cached data for %s"}`, r.URL.Path)
}

func (m *Manager) placeholderImage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("X-Offline", "1")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, placeholderSVG)
}

func (m *Manager) offlineDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Offline", "1")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(m.offlinePage)
}

func (m *Manager) unavailable(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "service unavailable", http.StatusServiceUnavailable)
}
