//go:build linux

package platform

import (
	"fmt"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// Netlinker is the subset of the netlink API the transport uses. It exists
// so the transport can be exercised without a kernel.
type Netlinker interface {
	LinkByIndex(index int) (netlink.Link, error)
	LinkByName(name string) (netlink.Link, error)
	LinkList() ([]netlink.Link, error)
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	LinkSetARPOn(link netlink.Link) error
	LinkSetARPOff(link netlink.Link) error
	LinkSetMasterByIndex(link netlink.Link, masterIndex int) error
	LinkSetNoMaster(link netlink.Link) error
	LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}, errorCallback func(error)) error
	Close()
}

// RealNetlinker issues requests on a netlink handle bound to one network
// namespace.
type RealNetlinker struct {
	handle *netlink.Handle
	ns     netns.NsHandle
}

// NewRealNetlinker opens a handle in the named namespace, or in the current
// one when name is empty.
func NewRealNetlinker(name string) (*RealNetlinker, error) {
	var (
		ns  netns.NsHandle
		err error
	)
	if name == "" {
		ns, err = netns.Get()
	} else {
		ns, err = netns.GetFromName(name)
	}
	if err != nil {
		return nil, fmt.Errorf("open netns %q: %w", name, err)
	}

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return nil, fmt.Errorf("netlink handle: %w", err)
	}
	return &RealNetlinker{handle: h, ns: ns}, nil
}

func (r *RealNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	return r.handle.LinkByIndex(index)
}

func (r *RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return r.handle.LinkByName(name)
}

func (r *RealNetlinker) LinkList() ([]netlink.Link, error) {
	return r.handle.LinkList()
}

func (r *RealNetlinker) LinkAdd(link netlink.Link) error {
	return r.handle.LinkAdd(link)
}

func (r *RealNetlinker) LinkDel(link netlink.Link) error {
	return r.handle.LinkDel(link)
}

func (r *RealNetlinker) LinkSetUp(link netlink.Link) error {
	return r.handle.LinkSetUp(link)
}

func (r *RealNetlinker) LinkSetDown(link netlink.Link) error {
	return r.handle.LinkSetDown(link)
}

func (r *RealNetlinker) LinkSetARPOn(link netlink.Link) error {
	return r.handle.LinkSetARPOn(link)
}

func (r *RealNetlinker) LinkSetARPOff(link netlink.Link) error {
	return r.handle.LinkSetARPOff(link)
}

func (r *RealNetlinker) LinkSetMasterByIndex(link netlink.Link, masterIndex int) error {
	return r.handle.LinkSetMasterByIndex(link, masterIndex)
}

func (r *RealNetlinker) LinkSetNoMaster(link netlink.Link) error {
	return r.handle.LinkSetNoMaster(link)
}

// LinkSubscribe starts a notification stream in the handle's namespace.
// The stream closes ch when it fails; closing done stops it.
func (r *RealNetlinker) LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}, errorCallback func(error)) error {
	ns := r.ns
	return netlink.LinkSubscribeWithOptions(ch, done, netlink.LinkSubscribeOptions{
		Namespace:     &ns,
		ErrorCallback: errorCallback,
	})
}

// Close releases the handle and the namespace descriptor.
func (r *RealNetlinker) Close() {
	r.handle.Close()
	r.ns.Close()
}
