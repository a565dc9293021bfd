package services

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"
)

var errEmptyMasterPlaylist = errors.New("master playlist has no variants")

// parsedPlaylist is either a list of segment URLs (media playlist) or the URL
// of the variant to follow (master playlist).
type parsedPlaylist struct {
	Segments []string
	Variant  string
}

// parsePlaylist decodes an HLS playlist and resolves every reference against
// base. Segment order is the order declared in the playlist.
func parsePlaylist(r io.Reader, base *url.URL) (parsedPlaylist, error) {
	playlist, listType, err := m3u8.DecodeFrom(r, false)
	if err != nil {
		return parsedPlaylist{}, fmt.Errorf("failed to decode playlist: %w", err)
	}

	switch listType {
	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		var segments []string
		for _, seg := range media.Segments {
			// Segments is a ring buffer; unused slots are nil.
			if seg == nil {
				continue
			}
			location, err := resolveReference(base, seg.URI)
			if err != nil {
				return parsedPlaylist{}, err
			}
			segments = append(segments, location)
		}
		return parsedPlaylist{Segments: segments}, nil

	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		var best *m3u8.Variant
		for _, v := range master.Variants {
			if v == nil || v.URI == "" {
				continue
			}
			if best == nil || v.Bandwidth > best.Bandwidth {
				best = v
			}
		}
		if best == nil {
			return parsedPlaylist{}, errEmptyMasterPlaylist
		}
		location, err := resolveReference(base, best.URI)
		if err != nil {
			return parsedPlaylist{}, err
		}
		return parsedPlaylist{Variant: location}, nil
	}

	return parsedPlaylist{}, fmt.Errorf("unsupported playlist type %v", listType)
}

func resolveReference(base *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid playlist reference %q: %w", ref, err)
	}
	if base == nil {
		return parsed.String(), nil
	}
	return base.ResolveReference(parsed).String(), nil
}
