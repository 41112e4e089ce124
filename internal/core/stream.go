package core

import "github.com/dkeye/Meet/internal/domain"

// LocalStream groups the tracks produced by one capture.
type LocalStream struct {
	ID     string
	Tracks []LocalTrack
}

func (s *LocalStream) TracksOf(kind domain.MediaKind) []LocalTrack {
	if s == nil {
		return nil
	}
	var out []LocalTrack
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func (s *LocalStream) TrackIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Tracks))
	for _, t := range s.Tracks {
		ids = append(ids, t.ID())
	}
	return ids
}
