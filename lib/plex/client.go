// Package plex reads movie and show libraries from a Plex server and
// exposes them as catalog source records for ingestion.
package plex

import (
	"context"
	"fmt"
	"strconv"

	"log/slog"

	"github.com/LukeHagar/plexgo"
	"github.com/LukeHagar/plexgo/models/operations"
)

type Client struct {
	api     *plexgo.PlexAPI
	plexURL string
	logger  *slog.Logger
}

func NewClient(plexURL, plexToken string, logger *slog.Logger) *Client {
	plex := plexgo.New(
		plexgo.WithSecurity(plexToken),
		plexgo.WithServerURL(plexURL),
	)

	return &Client{
		api:     plex,
		plexURL: plexURL,
		logger:  logger,
	}
}

// MediaRecord is one library entry in source form. Ingestion resolves
// it against TMDb to obtain the canonical catalog identity.
type MediaRecord struct {
	Title       string
	Year        int
	Summary     string
	Genres      []string
	ContentType string // "movie" or "tv"
	Rating      float64
}

// Libraries returns the movie and show library sections.
func (c *Client) Libraries(ctx context.Context) ([]operations.GetAllLibrariesDirectory, error) {
	c.logger.Debug("Fetching libraries from Plex", slog.String("url", c.plexURL))

	resp, err := c.api.Library.GetAllLibraries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get libraries: %w", err)
	}
	if resp.Object == nil {
		return nil, fmt.Errorf("invalid response from Plex API")
	}

	var sections []operations.GetAllLibrariesDirectory
	for _, lib := range resp.Object.MediaContainer.Directory {
		if lib.Type == "movie" || lib.Type == "show" {
			sections = append(sections, lib)
		}
	}

	c.logger.Debug("Got media libraries from Plex", slog.Int("count", len(sections)))
	return sections, nil
}

// CatalogRecords walks every movie and show library and returns their
// contents as source records.
func (c *Client) CatalogRecords(ctx context.Context) ([]MediaRecord, error) {
	libraries, err := c.Libraries(ctx)
	if err != nil {
		return nil, err
	}

	var records []MediaRecord
	for _, lib := range libraries {
		items, err := c.libraryRecords(ctx, lib)
		if err != nil {
			return nil, fmt.Errorf("failed to read library %q: %w", lib.Title, err)
		}
		records = append(records, items...)
	}
	return records, nil
}

// libraryRecords pages through one library section.
func (c *Client) libraryRecords(ctx context.Context, lib operations.GetAllLibrariesDirectory) ([]MediaRecord, error) {
	sectionKey, err := strconv.Atoi(lib.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid library key: %w", err)
	}

	var libraryType operations.GetLibraryItemsQueryParamType
	contentType := "movie"
	switch lib.Type {
	case "movie":
		libraryType = operations.GetLibraryItemsQueryParamType(1)
	case "show":
		libraryType = operations.GetLibraryItemsQueryParamType(2)
		contentType = "tv"
	default:
		return nil, fmt.Errorf("unsupported library type: %s", lib.Type)
	}

	containerSize := 50
	containerStart := 0
	includeGuids1 := operations.IncludeGuids(1)
	includeMeta1 := operations.GetLibraryItemsQueryParamIncludeMeta(1)

	var records []MediaRecord
	for {
		request := operations.GetLibraryItemsRequest{
			SectionKey:          sectionKey,
			Type:                libraryType,
			IncludeGuids:        &includeGuids1,
			IncludeMeta:         &includeMeta1,
			XPlexContainerSize:  &containerSize,
			XPlexContainerStart: &containerStart,
			Tag:                 operations.Tag("all"),
		}

		resp, err := c.api.Library.GetLibraryItems(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("failed to get items from library: %w", err)
		}

		for _, item := range resp.Object.MediaContainer.Metadata {
			records = append(records, MediaRecord{
				Title:       item.Title,
				Year:        intValue(item.Year),
				Summary:     item.Summary,
				Genres:      genreTags(item.Genre),
				ContentType: contentType,
				Rating:      floatValue(item.Rating),
			})
		}

		if len(resp.Object.MediaContainer.Metadata) == 0 ||
			containerStart+len(resp.Object.MediaContainer.Metadata) >= int(resp.Object.MediaContainer.TotalSize) {
			break
		}
		containerStart += containerSize
	}

	c.logger.Debug("Read Plex library",
		slog.String("library", lib.Title),
		slog.String("type", contentType),
		slog.Int("records", len(records)))

	return records, nil
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func floatValue(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func genreTags(genres []operations.GetLibraryItemsGenre) []string {
	var tags []string
	for _, g := range genres {
		if g.Tag != nil {
			tags = append(tags, *g.Tag)
		}
	}
	return tags
}
