// Package indexer maintains secondary indexes over committed ledger events
// so clients can list a player's or a city's markers without scanning state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/events"
	"github.com/tolelom/gpsrunner/storage"
)

const (
	prefixPlayerMarkers = "idx:player:marker:"
	prefixCityMarkers   = "idx:city:marker:"
	prefixPlayerCities  = "idx:player:city:"
)

// Indexer subscribes to ledger events and updates secondary lookup tables.
type Indexer struct {
	db storage.DB
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db}
	emitter.Subscribe(events.EventMarkerPlaced, idx.onMarkerPlaced)
	emitter.Subscribe(events.EventPlayerJoinedCity, idx.onPlayerJoinedCity)
	return idx
}

// MarkersByPlayer returns the ids of a player's markers in placement order.
func (idx *Indexer) MarkersByPlayer(playerID string) ([]string, error) {
	return idx.getList(prefixPlayerMarkers + playerID)
}

// MarkersByCity returns the ids of a city's markers in placement order.
func (idx *Indexer) MarkersByCity(city string) ([]string, error) {
	return idx.getList(prefixCityMarkers + city)
}

// CitiesByPlayer returns the cities a player has placed markers in, in the
// order they were first visited.
func (idx *Indexer) CitiesByPlayer(playerID string) ([]string, error) {
	return idx.getList(prefixPlayerCities + playerID)
}

// ---- event handlers ----

func (idx *Indexer) onMarkerPlaced(ev events.Event) {
	markerID, _ := ev.Data["marker_id"].(string)
	playerID, _ := ev.Data["player_id"].(string)
	city, _ := ev.Data["city"].(string)
	if markerID == "" || playerID == "" || city == "" {
		return
	}
	_ = idx.addToList(prefixPlayerMarkers+playerID, markerID)
	_ = idx.addToList(prefixCityMarkers+city, markerID)
}

func (idx *Indexer) onPlayerJoinedCity(ev events.Event) {
	playerID, _ := ev.Data["player_id"].(string)
	city, _ := ev.Data["city"].(string)
	if playerID == "" || city == "" {
		return
	}
	_ = idx.addToList(prefixPlayerCities+playerID, city)
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
