package state

import (
	"errors"
	"fmt"
)

var (
	ErrBadKeyLength = errors.New("key must be exactly 32 bytes")
)

var emptyKey = WfPublicKey{}

func MeshConfigValidator(cfg *MeshCfg) error {
	if len(cfg.Nodes) == 0 {
		return errors.New("mesh config must list at least one node")
	}
	seen := make(map[NodeId]struct{})
	for _, n := range cfg.Nodes {
		if n.Id == "" {
			return errors.New("mesh config contains a node without an id")
		}
		if _, dup := seen[n.Id]; dup {
			return fmt.Errorf("duplicate node id %q in mesh config", n.Id)
		}
		seen[n.Id] = struct{}{}
		if n.PubKey == emptyKey {
			return fmt.Errorf("node %q has no public key", n.Id)
		}
	}
	return nil
}

func LocalConfigValidator(mesh *MeshCfg, cfg *LocalCfg) error {
	if cfg.Id == "" {
		return errors.New("local config must set an id")
	}
	if mesh.TryGetNode(cfg.Id) == nil {
		return fmt.Errorf("local node %q is not part of the mesh config", cfg.Id)
	}
	if cfg.Key.Pubkey() != mesh.GetNode(cfg.Id).PubKey {
		return fmt.Errorf("local private key does not match the mesh public key for %q", cfg.Id)
	}
	for peer := range cfg.Peers {
		if mesh.TryGetNode(peer) == nil {
			return fmt.Errorf("peer %q is not part of the mesh config", peer)
		}
	}
	return nil
}
