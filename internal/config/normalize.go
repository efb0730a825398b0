package config

import (
	"os"
	"strings"
)

// normalize expands user paths and trims whitespace in string settings.
func (c *Config) normalize() error {
	pathFields := []*string{
		&c.Paths.WatchDir,
		&c.Paths.DestinationDir,
		&c.Paths.ErrorDir,
		&c.Paths.DownloadDir,
		&c.Paths.LogDir,
	}
	for _, field := range pathFields {
		trimmed := strings.TrimSpace(*field)
		if trimmed == "" {
			*field = trimmed
			continue
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return err
		}
		*field = expanded
	}

	if c.MetadataAPI.RefreshTokenFile != "" {
		expanded, err := expandPath(strings.TrimSpace(c.MetadataAPI.RefreshTokenFile))
		if err != nil {
			return err
		}
		c.MetadataAPI.RefreshTokenFile = expanded
	}

	c.Database.URL = strings.TrimSpace(c.Database.URL)
	if c.Database.URL == "" {
		c.Database.URL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	c.MetadataAPI.BaseURL = strings.TrimRight(strings.TrimSpace(c.MetadataAPI.BaseURL), "/")
	c.MetadataAPI.RefreshURL = strings.TrimSpace(c.MetadataAPI.RefreshURL)
	c.MetadataAPI.Token = strings.TrimSpace(c.MetadataAPI.Token)
	c.Emby.URL = strings.TrimRight(strings.TrimSpace(c.Emby.URL), "/")
	c.Emby.APIKey = strings.TrimSpace(c.Emby.APIKey)
	c.Emby.UserID = strings.TrimSpace(c.Emby.UserID)
	c.Emby.ParentFolderID = strings.TrimSpace(c.Emby.ParentFolderID)
	c.Emby.LibraryPath = strings.TrimSpace(c.Emby.LibraryPath)
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)

	normalized := make([]string, 0, len(c.VideoExtensions))
	for _, ext := range c.VideoExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		normalized = append(normalized, ext)
	}
	c.VideoExtensions = normalized

	return nil
}
