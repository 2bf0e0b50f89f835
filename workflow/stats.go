package workflow

import (
	"context"

	"github.com/pithecene-io/ucdsync/types"
)

// Stats counts instances by lifecycle state.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Active   int `json:"active"`
	Complete int `json:"complete"`
	Errored  int `json:"errored"`
}

// Stats loads every instance and counts them by state.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	ids, err := e.state.List(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stats{}
	for _, id := range ids {
		inst, err := e.state.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		s.Total++
		switch inst.State {
		case types.StatePending:
			s.Pending++
		case types.StateComplete:
			s.Complete++
		case types.StateErrored:
			s.Errored++
		default:
			s.Active++
		}
	}
	return s, nil
}
