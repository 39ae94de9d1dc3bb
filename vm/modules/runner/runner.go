// Package runner handles player registration, marker placement and marker
// verification.
package runner

import (
	"encoding/json"

	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/marker"
	"github.com/tolelom/gpsrunner/vm"
)

func init() {
	vm.Register(core.TxRegisterPlayer, handleRegisterPlayer)
	vm.Register(core.TxPlaceMarker, handlePlaceMarker)
	vm.Register(core.TxVerifyMarker, handleVerifyMarker)
	vm.Register(core.TxBatchVerifyMarkers, handleBatchVerifyMarkers)
}

func handleRegisterPlayer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RegisterPlayerPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Markers.RegisterPlayer(ctx.Call, p.PlayerID, p.Attrs)
}

func handlePlaceMarker(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PlaceMarkerPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	id, err := ctx.Markers.PlaceMarker(ctx.Call, marker.Placement{
		PlayerID:      p.PlayerID,
		Lat:           p.Lat,
		Lon:           p.Lon,
		City:          p.City,
		Landmark:      p.Landmark,
		ReportedSpeed: p.ReportedSpeed,
	})
	if err != nil {
		return err
	}
	ctx.SetResult(map[string]string{"marker_id": id})
	return nil
}

func handleVerifyMarker(ctx *vm.Context, payload json.RawMessage) error {
	var p core.VerifyMarkerPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Markers.VerifyMarker(ctx.Call, p.MarkerID)
}

func handleBatchVerifyMarkers(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BatchVerifyMarkersPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Markers.BatchVerifyMarkers(ctx.Call, p.MarkerIDs)
}
