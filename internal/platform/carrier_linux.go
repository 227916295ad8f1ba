//go:build linux

package platform

import (
	"fmt"

	"github.com/safchain/ethtool"
)

// EthtoolProbe asks the driver for link state. Drivers that cannot answer
// ETHTOOL_GLINK do not detect carrier.
type EthtoolProbe struct {
	handle *ethtool.Ethtool
}

// NewEthtoolProbe opens an ethtool handle.
func NewEthtoolProbe() (*EthtoolProbe, error) {
	h, err := ethtool.NewEthtool()
	if err != nil {
		return nil, fmt.Errorf("failed to open ethtool handle: %w", err)
	}
	return &EthtoolProbe{handle: h}, nil
}

// SupportsCarrierDetect reports whether the driver answers link state queries.
func (e *EthtoolProbe) SupportsCarrierDetect(name string) bool {
	_, err := e.handle.LinkState(name)
	return err == nil
}

// Close closes the ethtool handle.
func (e *EthtoolProbe) Close() {
	e.handle.Close()
}
