package eval

import (
	"context"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/store"
)

// Replay loads the persisted log of name and verifies it.
func Replay(ctx context.Context, st store.EventStore, name agent.ContextName) (Report, error) {
	events, err := st.Load(ctx, name)
	if err != nil {
		return Report{}, err
	}
	return Verify(events), nil
}
