package main

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/blockexec/chainspecs"
	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/statedb"
	"github.com/colorfulnotion/blockexec/storage"
	mapset "github.com/deckarep/golang-set/v2"
)

// stateSession is one command's view of the persisted state. The visited-pc shape is
// chosen by the chain spec, so the generic CachedState hides behind this interface.
type stateSession interface {
	State() statedb.State
	Diff() (*statedb.StateDiff, error)
	Commit() error
	VisitedPcs() map[common.Hash][]uint64
}

type session[P any] struct {
	state *statedb.CachedState[P]
	store *storage.StateStore
}

func (s *session[P]) State() statedb.State {
	return s.state
}

func (s *session[P]) Diff() (*statedb.StateDiff, error) {
	return s.state.ToStateDiff()
}

func (s *session[P]) Commit() error {
	return s.state.CommitToStore(s.store)
}

func (s *session[P]) VisitedPcs() map[common.Hash][]uint64 {
	tracker := s.state.VisitedPcs()
	out := make(map[common.Hash][]uint64)
	for h, pcs := range tracker.All() {
		out[h] = statedb.SortedPcs(tracker, pcs)
	}
	return out
}

func newSession(spec *chainspecs.ChainSpec, store *storage.StateStore) stateSession {
	reader := statedb.NewPersistentStateReader(store)
	if spec.VisitedPcs == chainspecs.VisitedPcsCalls {
		return &session[*statedb.PcCalls]{state: statedb.NewCallsCachedState(reader), store: store}
	}
	return &session[mapset.Set[uint64]]{state: statedb.NewSetCachedState(reader), store: store}
}

func parseFelts(s string) ([]common.Felt, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []common.Felt{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]common.Felt, 0, len(parts))
	for _, p := range parts {
		f, err := common.FeltFromString(p)
		if err != nil {
			return nil, fmt.Errorf("calldata: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}
