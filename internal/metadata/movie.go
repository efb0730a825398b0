package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Movie is the metadata payload returned by the search service. Raw holds
// the untouched JSON so it can be persisted with the queue item and replayed
// at the catalog stage.
type Movie struct {
	MovieCode     string     `json:"movie_code"`
	Title         string     `json:"title"`
	OriginalTitle string     `json:"original_title"`
	Overview      string     `json:"overview"`
	ReleaseDate   string     `json:"release_date"`
	Actress       []string   `json:"actress"`
	Genre         StringList `json:"genre"`
	Label         string     `json:"label"`
	ImageCropped  string     `json:"image_cropped"`
	RawImageURL   string     `json:"raw_image_url"`

	Raw json.RawMessage `json:"-"`
}

// ParseMovie decodes a metadata payload, keeping the raw bytes alongside the
// parsed fields.
func ParseMovie(raw []byte) (*Movie, error) {
	var movie Movie
	if err := json.Unmarshal(raw, &movie); err != nil {
		return nil, fmt.Errorf("decode metadata payload: %w", err)
	}
	movie.Raw = append(json.RawMessage(nil), raw...)
	return &movie, nil
}

// ImageURL returns the preferred image source for catalog artwork.
func (m *Movie) ImageURL() string {
	if m.ImageCropped != "" {
		return m.ImageCropped
	}
	return m.RawImageURL
}

// StringList accepts either a JSON array of strings or a single
// comma-separated string. The service emits both shapes.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return err
		}
		*l = values
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	var values []string
	for _, part := range strings.Split(single, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	*l = values
	return nil
}
