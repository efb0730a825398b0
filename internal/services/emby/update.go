package emby

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"curator/internal/logging"
	"curator/internal/metadata"
)

// verifyDelay gives Emby a moment to persist a metadata write before the
// read-back check.
const verifyDelay = time.Second

// GetItem fetches the full item document. The user-scoped endpoint is used
// when a user id is configured; Emby requires it for item access on some
// server versions.
func (c *Client) GetItem(ctx context.Context, itemID string) (map[string]any, error) {
	endpoint := c.baseURL + "/Items/" + url.PathEscape(itemID)
	if c.userID != "" {
		endpoint = c.baseURL + "/Users/" + url.PathEscape(c.userID) + "/Items/" + url.PathEscape(itemID)
	}

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", itemID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get item %s returned status %d", itemID, resp.StatusCode)
	}

	var item map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", itemID, err)
	}
	return item, nil
}

// UpdateMetadata overlays the fetched movie metadata onto the Emby item and
// writes it back. The write is only trusted after a read-back confirms the
// key fields stuck; Emby sometimes acknowledges a write it then discards.
func (c *Client) UpdateMetadata(ctx context.Context, itemID string, movie *metadata.Movie) error {
	item, err := c.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	applyMetadata(item, movie)

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item update: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/Items/"+url.PathEscape(itemID), body, "application/json")
	if err != nil {
		return fmt.Errorf("update item %s: %w", itemID, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("update item %s returned status %d", itemID, resp.StatusCode)
	}

	if err := c.sleep(ctx, verifyDelay); err != nil {
		return err
	}
	verified, err := c.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("verify update: %w", err)
	}
	if mismatches := verifyMetadata(item, verified); len(mismatches) > 0 {
		return fmt.Errorf("metadata update not persisted for item %s: %s",
			itemID, strings.Join(mismatches, "; "))
	}

	c.logger.Info("metadata update verified", logging.String("item_id", itemID))
	return nil
}

// applyMetadata mutates the item document in place. The display name comes
// from the file stem so the catalog mirrors the organized filename.
func applyMetadata(item map[string]any, movie *metadata.Movie) {
	if path, _ := item["Path"].(string); path != "" {
		normalized := strings.ReplaceAll(path, `\`, "/")
		filename := normalized
		if idx := strings.LastIndexByte(normalized, '/'); idx >= 0 {
			filename = normalized[idx+1:]
		}
		stem := filename
		if idx := strings.LastIndexByte(filename, '.'); idx > 0 {
			stem = filename[:idx]
		}
		item["Name"] = stem
		item["SortName"] = stem
		item["ForcedSortName"] = stem
	}

	item["OriginalTitle"] = movie.OriginalTitle
	item["Overview"] = movie.Overview
	item["PreferredMetadataLanguage"] = "en"
	item["PreferredMetadataCountryCode"] = "JP"
	item["ProductionLocations"] = []string{"Japan"}
	item["ProviderIds"] = map[string]any{}

	if movie.ReleaseDate != "" {
		item["PremiereDate"] = movie.ReleaseDate
		if year, err := strconv.Atoi(strings.SplitN(movie.ReleaseDate, "-", 2)[0]); err == nil {
			item["ProductionYear"] = year
		}
	}

	var people []map[string]any
	for _, name := range movie.Actress {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			people = append(people, map[string]any{"Name": trimmed, "Type": "Actor"})
		}
	}
	if len(people) > 0 {
		item["People"] = people
	}

	var genres []map[string]any
	for _, genre := range movie.Genre {
		genres = append(genres, map[string]any{"Name": genre})
	}
	if len(genres) > 0 {
		item["GenreItems"] = genres
	}

	if movie.Label != "" {
		var studios []map[string]any
		for _, label := range strings.Split(movie.Label, ",") {
			if trimmed := strings.TrimSpace(label); trimmed != "" {
				studios = append(studios, map[string]any{"Name": trimmed})
			}
		}
		if len(studios) > 0 {
			item["Studios"] = studios
		}
	}

	item["LockData"] = true
}

// verifyMetadata compares the written document against a fresh read.
func verifyMetadata(expected, actual map[string]any) []string {
	var mismatches []string

	for _, field := range []string{"Name", "OriginalTitle", "Overview"} {
		want, _ := expected[field].(string)
		got, _ := actual[field].(string)
		if want != "" && got != want {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %q, got %q", field, truncate(want, 40), truncate(got, 40)))
		}
	}
	if locked, _ := actual["LockData"].(bool); !locked {
		mismatches = append(mismatches, "LockData: not set")
	}
	return mismatches
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
