package state

type NodeCfg struct {
	Id     NodeId
	PubKey WfPublicKey
}

// Tunables are mesh-wide protocol knobs. Zero values fall back to the
// defaults in constants.go; staleness is deliberately not a protocol constant.
type Tunables struct {
	RouteTTL         Duration `yaml:"route_ttl,omitempty"`
	DiscoveryTimeout Duration `yaml:"discovery_timeout,omitempty"`
	MaxRequestHops   uint8    `yaml:"max_request_hops,omitempty"`
	RetryInterval    Duration `yaml:"retry_interval,omitempty"`
	MaxSendAttempts  int      `yaml:"max_send_attempts,omitempty"`
}

// MeshCfg is shared by every node in the mesh
type MeshCfg struct {
	Nodes    []NodeCfg
	Tunables Tunables `yaml:",omitempty"`
}

// LocalCfg represents local node-level configuration
type LocalCfg struct {
	// Node Private Key
	Key     WfPrivateKey
	Id      NodeId            // unique id for this node
	Listen  string            `yaml:"listen,omitempty"`   // address the link transport listens on
	Peers   map[NodeId]string `yaml:"peers,omitempty"`    // directly reachable neighbours and their dial addresses
	DataDir string            `yaml:"data_dir,omitempty"` // durable route/message store location
	LogPath string            `yaml:"log_path,omitempty"` // if not empty, weft will also write logs to this file
}

func (c *MeshCfg) TryGetNode(id NodeId) *NodeCfg {
	for i, n := range c.Nodes {
		if n.Id == id {
			return &c.Nodes[i]
		}
	}
	return nil
}

func (c *MeshCfg) GetNode(id NodeId) NodeCfg {
	n := c.TryGetNode(id)
	if n == nil {
		panic("node " + string(id) + " is not part of the mesh config")
	}
	return *n
}
