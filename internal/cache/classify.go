package cache

import (
	"net/http"
	"path"
	"strings"
)

// Strategy names the caching behavior selected for a request.
type Strategy string

const (
	StrategyBypass  Strategy = "bypass"
	StrategyAPI     Strategy = "api"
	StrategyImage   Strategy = "image"
	StrategyHTML    Strategy = "html"
	StrategyStatic  Strategy = "static"
	StrategyDefault Strategy = "default"
)

// Classifier selects a strategy for a request. Rules apply in a fixed
// priority order; the first match wins.
type Classifier struct {
	allowedOrigins map[string]struct{}
	apiPrefixes    []string
	staticAssets   map[string]struct{}
	imageExts      map[string]struct{}
}

func NewClassifier(allowedOrigins, apiPrefixes, staticAssets, imageExts []string) *Classifier {
	c := &Classifier{
		apiPrefixes:    apiPrefixes,
		allowedOrigins: make(map[string]struct{}, len(allowedOrigins)),
		staticAssets:   make(map[string]struct{}, len(staticAssets)),
		imageExts:      make(map[string]struct{}, len(imageExts)),
	}
	for _, o := range allowedOrigins {
		c.allowedOrigins[o] = struct{}{}
	}
	for _, a := range staticAssets {
		c.staticAssets[a] = struct{}{}
	}
	for _, e := range imageExts {
		c.imageExts[strings.ToLower(e)] = struct{}{}
	}
	return c
}

func (c *Classifier) Classify(r *http.Request) Strategy {
	if r.Method != http.MethodGet {
		return StrategyBypass
	}
	if len(c.allowedOrigins) > 0 {
		if _, ok := c.allowedOrigins[r.Host]; !ok {
			return StrategyBypass
		}
	}

	for _, prefix := range c.apiPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return StrategyAPI
		}
	}

	if _, ok := c.imageExts[strings.ToLower(path.Ext(r.URL.Path))]; ok {
		return StrategyImage
	}

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return StrategyHTML
	}

	if _, ok := c.staticAssets[r.URL.Path]; ok {
		return StrategyStatic
	}

	return StrategyDefault
}
