package diff

import "github.com/alanyoungcy/polysnap/internal/domain"

// Summary aggregates a list of change events.
type Summary struct {
	Opened      int
	Updated     int
	Closed      int
	Resolved    int
	RealizedPnL float64
}

// Total returns the number of events summarised.
func (s Summary) Total() int {
	return s.Opened + s.Updated + s.Closed + s.Resolved
}

// Summarize counts events per type and sums the PnL of RESOLVED events.
func Summarize(events []domain.ChangeEvent) Summary {
	var s Summary
	for _, ev := range events {
		switch ev.Type {
		case domain.EventOpened:
			s.Opened++
		case domain.EventUpdated:
			s.Updated++
		case domain.EventClosed:
			s.Closed++
		case domain.EventResolved:
			s.Resolved++
			if ev.PnL != nil {
				s.RealizedPnL += *ev.PnL
			}
		}
	}
	return s
}
