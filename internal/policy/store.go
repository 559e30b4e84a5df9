package policy

import (
	"fmt"
	"sort"

	"github.com/solatis/pricekeeper/internal/types"
)

// Store holds the compiled policies of one company snapshot.
// Read-only after construction; safe for concurrent use.
type Store struct {
	policies []*CompiledPolicy
	byID     map[int64]*CompiledPolicy
}

// NewStore compiles policies into a store. Fails on the first invalid policy
// or on a duplicate id.
func NewStore(policies []types.CommercialPolicy) (*Store, error) {
	s := &Store{
		policies: make([]*CompiledPolicy, 0, len(policies)),
		byID:     make(map[int64]*CompiledPolicy, len(policies)),
	}

	for i := range policies {
		compiled, err := Compile(&policies[i])
		if err != nil {
			return nil, err
		}
		if _, dup := s.byID[compiled.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %d", types.ErrInvalidPolicyID, compiled.ID)
		}
		s.byID[compiled.ID] = compiled
		s.policies = append(s.policies, compiled)
	}

	sort.Slice(s.policies, func(i, j int) bool {
		return s.policies[i].ID < s.policies[j].ID
	})

	return s, nil
}

// Get returns the policy with the given id.
func (s *Store) Get(id int64) (*CompiledPolicy, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrPolicyNotFound, id)
	}
	return p, nil
}

// Active returns the active policies ordered by id.
func (s *Store) Active() []*CompiledPolicy {
	active := make([]*CompiledPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		if p.Active {
			active = append(active, p)
		}
	}
	return active
}

// Len returns the number of policies in the store, active or not.
func (s *Store) Len() int {
	return len(s.policies)
}
