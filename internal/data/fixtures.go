package data

import (
	"fmt"
	"io"
	"os"
	"sort"

	"hydropulse/internal/model"
)

// LoadReplayJSON reads a recorded session. Samples are sorted by timestamp
// so a fixture assembled out of order still replays in arrival order.
func LoadReplayJSON(path string) (*model.ReplayInputs, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var in model.ReplayInputs
	if err := codec.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("parse replay %s: %w", path, err)
	}
	if len(in.Samples) == 0 {
		return nil, fmt.Errorf("replay %s has no samples", path)
	}
	sort.SliceStable(in.Samples, func(i, j int) bool { return in.Samples[i].TimestampMs < in.Samples[j].TimestampMs })
	return &in, nil
}

// WriteReplayJSON encodes a session in the format LoadReplayJSON reads.
func WriteReplayJSON(w io.Writer, in *model.ReplayInputs) error {
	enc := codec.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(in)
}

// LoadPriceJSON reads a saved price API response.
func LoadPriceJSON(path string) (*model.PriceSeriesResponse, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var resp model.PriceSeriesResponse
	if err := codec.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse prices %s: %w", path, err)
	}
	return &resp, nil
}

// GroupByZone splits a response into zone-keyed slices.
func GroupByZone(resp *model.PriceSeriesResponse) map[string][]model.PriceInterval {
	out := map[string][]model.PriceInterval{}
	if resp == nil {
		return out
	}
	for _, it := range resp.Data {
		out[it.Zone] = append(out[it.Zone], it)
	}
	return out
}
