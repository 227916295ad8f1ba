//go:build !linux

package platform

import (
	"context"
	"time"

	"grimm.is/linkd/internal/errors"
)

var errNoNetlink = errors.New(errors.KindTransportFailure, "netlink is not supported on this platform")

// NetlinkTransport is only available on Linux.
type NetlinkTransport struct{}

// NewNetlinkTransport always fails off Linux; use the fake backend.
func NewNetlinkTransport(opts NetlinkOptions) (*NetlinkTransport, error) {
	return nil, errNoNetlink
}

func (t *NetlinkTransport) Create(ctx context.Context, spec LinkSpec) (int, error) {
	return 0, errNoNetlink
}

func (t *NetlinkTransport) Modify(ctx context.Context, handle int, patch Patch) error {
	return errNoNetlink
}

func (t *NetlinkTransport) Delete(ctx context.Context, handle int) error {
	return errNoNetlink
}

func (t *NetlinkTransport) Poll(ctx context.Context, wait time.Duration) ([]RawEvent, error) {
	return nil, errNoNetlink
}

func (t *NetlinkTransport) Dump(ctx context.Context) ([]Link, error) {
	return nil, errNoNetlink
}

func (t *NetlinkTransport) GetOption(ctx context.Context, handle int, scope OptionScope, key string) (string, error) {
	return "", errNoNetlink
}

func (t *NetlinkTransport) SetOption(ctx context.Context, handle int, scope OptionScope, key, value string) error {
	return errNoNetlink
}

func (t *NetlinkTransport) Close() error { return nil }
