package hub

import (
	"go.uber.org/multierr"

	"gateway/pkg/types"
)

// Registry owns one isolated Hub per realtime namespace
type Registry struct {
	hubs map[types.Namespace]*Hub
}

// NewRegistry creates the canvas and chat hubs with shared options
func NewRegistry(opts Options) *Registry {
	return &Registry{
		hubs: map[types.Namespace]*Hub{
			types.NamespaceCanvas: NewHub(types.NamespaceCanvas, opts),
			types.NamespaceChat:   NewHub(types.NamespaceChat, opts),
		},
	}
}

// Hub returns the hub for namespace. Unknown namespaces have no hub.
func (r *Registry) Hub(namespace types.Namespace) (*Hub, bool) {
	if !types.IsValidNamespace(namespace) {
		return nil, false
	}
	h, ok := r.hubs[namespace]
	return h, ok
}

// Stats reports room and member counts per namespace
func (r *Registry) Stats() map[types.Namespace]types.HubStats {
	stats := make(map[types.Namespace]types.HubStats, len(r.hubs))
	for ns, h := range r.hubs {
		stats[ns] = h.Stats()
	}
	return stats
}

// Close closes every hub
func (r *Registry) Close() error {
	var err error
	for _, h := range r.hubs {
		err = multierr.Append(err, h.Close())
	}
	return err
}
