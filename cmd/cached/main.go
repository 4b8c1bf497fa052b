// Command cached serves a content cache over HTTP: GET performs a cache
// lookup with consumer directives taken from the query string, PUT offers a
// resource to the cache, DELETE drops an id. Prometheus metrics are exposed
// on /metrics.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"strconv"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/joinava/cache"
	"github.com/joinava/cache/metrics"
	"github.com/joinava/cache/store"
)

type config struct {
	Addr       string `env:"CACHED_ADDR" envDefault:":8080"`
	Store      string `env:"CACHED_STORE" envDefault:"memory"`
	DBFile     string `env:"CACHED_DB" envDefault:"cache.db"`
	MaxEntries int    `env:"CACHED_MAX_ENTRIES" envDefault:"0"`
	Trace      bool   `env:"CACHED_TRACE"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("Could not parse environment")
	}
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to listen on")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "Store backend: memory, sqlite or bolt")
	flag.StringVar(&cfg.DBFile, "db", cfg.DBFile, "Database file for sqlite and bolt stores")
	flag.BoolVar(&cfg.Trace, "vv", cfg.Trace, "Verbosity: trace logging")
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if cfg.Trace {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	backend, err := newStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("Could not open store")
	}
	c := cache.New(cache.Config{Store: backend})

	if _, err := metrics.NewCollector(prometheus.DefaultRegisterer); err != nil {
		log.Fatal().Err(err).Msg("Could not register metrics")
	}

	r := chi.NewRouter()
	r.Get("/cache/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		result, err := c.Get(cache.Request{
			ID:         id,
			Params:     queryParams(req),
			Directives: queryDirectives(req),
		})
		if err != nil {
			log.Error().Err(err).Str("id", id).Msg("Cache read failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
	r.Put("/cache/{id}", func(w http.ResponseWriter, req *http.Request) {
		var resource cache.Resource
		if err := json.NewDecoder(req.Body).Decode(&resource); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resource.ID = chi.URLParam(req, "id")
		if err := c.Store([]cache.Resource{resource}); err != nil {
			log.Error().Err(err).Str("id", resource.ID).Msg("Cache write failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/cache/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if err := backend.Delete(id); err != nil {
			log.Error().Err(err).Str("id", id).Msg("Cache delete failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.Handler())

	log.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("Serving cache")
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func newStore(cfg config) (cache.Store, error) {
	switch cfg.Store {
	case "sqlite":
		return store.NewSQLite(cfg.DBFile)
	case "bolt":
		return store.NewBolt(cfg.DBFile)
	default:
		return store.NewMemory(cfg.MaxEntries), nil
	}
}

// reserved query keys carrying consumer directives rather than params
const (
	queryMaxAge   = "max_age"
	queryMaxStale = "max_stale"
)

func queryParams(req *http.Request) cache.Params {
	params := cache.Params{}
	for name, values := range req.URL.Query() {
		if name == queryMaxAge || name == queryMaxStale || len(values) == 0 {
			continue
		}
		params[name] = scalarFromString(values[0])
	}
	return params
}

func queryDirectives(req *http.Request) cache.ConsumerDirectives {
	dirs := cache.ConsumerDirectives{}
	if v, err := strconv.ParseFloat(req.URL.Query().Get(queryMaxAge), 64); err == nil {
		dirs.MaxAge = cache.Float(v)
	}
	if v, err := strconv.ParseFloat(req.URL.Query().Get(queryMaxStale), 64); err == nil {
		dirs.MaxStale = &cache.ConsumerMaxStale{
			WithoutRevalidation: v,
			WhileRevalidate:     v,
			IfError:             v,
		}
	}
	return dirs
}

// scalarFromString maps a query value onto the narrowest matching JSON
// scalar, so that lookups match entries stored through the JSON API.
func scalarFromString(s string) any {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(s); err == nil {
		return v
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error writing to client")
	}
}
