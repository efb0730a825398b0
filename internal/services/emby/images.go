package emby

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"curator/internal/logging"
)

// backdropSlots is how many Backdrop indices are cleared before re-upload.
const backdropSlots = 5

// DeleteImage removes one image from an item. A 404 counts as success since
// the slot is already empty.
func (c *Client) DeleteImage(ctx context.Context, itemID, imageType string, index int) error {
	endpoint := fmt.Sprintf("%s/Items/%s/Images/%s/%d",
		c.baseURL, url.PathEscape(itemID), url.PathEscape(imageType), index)
	resp, err := c.do(ctx, http.MethodDelete, endpoint, nil, "")
	if err != nil {
		return fmt.Errorf("delete %s image: %w", imageType, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("delete %s image returned status %d", imageType, resp.StatusCode)
	}
}

// UploadImage sends raw image bytes as a base64 body, the upload shape the
// Emby image endpoint expects.
func (c *Client) UploadImage(ctx context.Context, itemID, imageType string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	endpoint := fmt.Sprintf("%s/Items/%s/Images/%s?api_key=%s",
		c.baseURL, url.PathEscape(itemID), url.PathEscape(imageType), url.QueryEscape(c.apiKey))

	encoded := base64.StdEncoding.EncodeToString(data)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s image: %w", imageType, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload %s image returned status %d", imageType, resp.StatusCode)
	}
	c.logger.Info("uploaded image",
		logging.String("item_id", itemID),
		logging.String("image_type", imageType))
	return nil
}

// UploadImages replaces an item's artwork from a source image URL: existing
// Backdrop/Banner/Primary/Logo slots are cleared, the W800 variant becomes
// Backdrop and Banner, and the original becomes Primary. Individual failures
// are logged; the call succeeds when at least one upload lands.
func (c *Client) UploadImages(ctx context.Context, itemID, imageURL string) error {
	if imageURL == "" {
		return fmt.Errorf("no image url for item %s", itemID)
	}

	for i := 0; i < backdropSlots; i++ {
		if err := c.DeleteImage(ctx, itemID, "Backdrop", i); err != nil {
			c.logger.Warn("delete backdrop failed", logging.Int("index", i), logging.Error(err))
		}
	}
	for _, imageType := range []string{"Banner", "Primary", "Logo"} {
		if err := c.DeleteImage(ctx, itemID, imageType, 0); err != nil {
			c.logger.Warn("delete image failed",
				logging.String("image_type", imageType), logging.Error(err))
		}
	}

	uploaded := 0
	if data, contentType, err := c.downloadImage(ctx, makeW800URL(imageURL)); err != nil {
		c.logger.Warn("download resized image failed", logging.Error(err))
	} else {
		for _, imageType := range []string{"Backdrop", "Banner"} {
			if err := c.UploadImage(ctx, itemID, imageType, data, contentType); err != nil {
				c.logger.Warn("image upload failed",
					logging.String("image_type", imageType), logging.Error(err))
				continue
			}
			uploaded++
		}
	}

	if data, contentType, err := c.downloadImage(ctx, imageURL); err != nil {
		c.logger.Warn("download original image failed", logging.Error(err))
	} else if err := c.UploadImage(ctx, itemID, "Primary", data, contentType); err != nil {
		c.logger.Warn("image upload failed",
			logging.String("image_type", "Primary"), logging.Error(err))
	} else {
		uploaded++
	}

	if uploaded == 0 {
		return fmt.Errorf("all image uploads failed for item %s", itemID)
	}
	c.logger.Info("image upload completed",
		logging.String("item_id", itemID), logging.Int("uploaded", uploaded))
	return nil
}

// downloadImage fetches artwork. Requests to the metadata host carry the
// bearer token and get one retry after a reactive refresh on 401. A body
// with an image/* content type is accepted whatever the status code; the
// metadata host's crop endpoint answers 404 with valid image bytes.
func (c *Client) downloadImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	resp, err := c.imageRequest(ctx, imageURL)
	if err != nil {
		return nil, "", err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.usesImageAuth(imageURL) && c.imageTokens != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		c.logger.Warn("image download unauthorized, refreshing token")
		c.imageTokens.HandleUnauthorized()
		if resp, err = c.imageRequest(ctx, imageURL); err != nil {
			return nil, "", err
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "image/") && len(data) > 0 {
		return data, contentType, nil
	}
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("image download returned status %d", resp.StatusCode)
	}
	return nil, "", fmt.Errorf("url did not return an image (content type %q)", contentType)
}

func (c *Client) imageRequest(ctx context.Context, imageURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "image/*,*/*;q=0.8")
	if c.usesImageAuth(imageURL) && c.imageTokens != nil {
		if token := c.imageTokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	return resp, nil
}

func (c *Client) usesImageAuth(imageURL string) bool {
	if c.imageAuthHost == "" {
		return false
	}
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return false
	}
	return strings.Contains(parsed.Host, c.imageAuthHost)
}

// makeW800URL rewrites an image URL to request the 800px-wide variant: the
// w parameter is forced to 800 and the horizontal parameter is dropped.
func makeW800URL(imageURL string) string {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return imageURL
	}
	query := parsed.Query()
	query.Set("w", strconv.Itoa(800))
	query.Del("horizontal")
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
