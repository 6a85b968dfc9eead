package timeline

import (
	"strconv"
	"strings"
)

const (
	trackPrefix  = "track"
	clipPrefix   = "clip"
	effectPrefix = "fx"
)

// NextID returns prefix_<n> where n is one past the largest numeric suffix
// already used with that prefix. Deriving ids from state keeps application
// deterministic: the same state and batch always mint the same ids.
func NextID(prefix string, existing []string) string {
	max := 0
	p := prefix + "_"
	for _, id := range existing {
		if !strings.HasPrefix(id, p) {
			continue
		}
		n, err := strconv.Atoi(id[len(p):])
		if err == nil && n > max {
			max = n
		}
	}
	return p + strconv.Itoa(max+1)
}

func (s *State) trackIDs() []string {
	ids := make([]string, 0, len(s.Tracks))
	for _, t := range s.Tracks {
		ids = append(ids, t.ID)
	}
	return ids
}

// ClipIDs lists every clip id in track then clip order.
func (s *State) ClipIDs() []string {
	var ids []string
	for _, t := range s.Tracks {
		for _, c := range t.Clips {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func (s *State) effectIDs() []string {
	var ids []string
	for _, t := range s.Tracks {
		for _, c := range t.Clips {
			for _, e := range c.Effects {
				ids = append(ids, e.ID)
			}
		}
	}
	return ids
}

func (s *State) hasID(id string) bool {
	if id == "" {
		return false
	}
	for _, t := range s.Tracks {
		if t.ID == id {
			return true
		}
		for _, c := range t.Clips {
			if c.ID == id {
				return true
			}
			for _, e := range c.Effects {
				if e.ID == id {
					return true
				}
			}
		}
	}
	return false
}

// NextClipID returns the clip id the applier would mint next, skipping any
// ids already reserved by the caller for the same batch.
func (s *State) NextClipID(reserved ...string) string {
	return NextID(clipPrefix, append(s.ClipIDs(), reserved...))
}
