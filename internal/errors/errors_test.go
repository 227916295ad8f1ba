package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	err := New(KindNotFound, "link 42 not found")
	if err.Error() != "link 42 not found" {
		t.Errorf("expected 'link 42 not found', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindInvalidOperation, "cannot enslave")
	if wrapped.Error() != "cannot enslave: link 42 not found" {
		t.Errorf("expected 'cannot enslave: link 42 not found', got '%s'", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindNotSlave, "eth0 is not enslaved")
	if GetKind(err) != KindNotSlave {
		t.Errorf("expected KindNotSlave, got %v", GetKind(err))
	}

	wrapped := fmt.Errorf("release: %w", err)
	if GetKind(wrapped) != KindNotSlave {
		t.Errorf("expected KindNotSlave through fmt wrapping, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestSentinelMatching(t *testing.T) {
	err := Errorf(KindAlreadyExists, "link %q exists", "br0")
	assert.True(t, errors.Is(err, ErrAlreadyExists))
	assert.False(t, errors.Is(err, ErrNotFound))

	wrapped := fmt.Errorf("add: %w", err)
	assert.True(t, Is(wrapped, ErrAlreadyExists))
}

func TestTransportCode(t *testing.T) {
	err := Transport(95, errors.New("operation not supported"), "set master")
	assert.Equal(t, KindTransportFailure, GetKind(err))
	assert.Equal(t, 95, GetCode(err))
	assert.Equal(t, "set master (code 95): operation not supported", err.Error())
	assert.Equal(t, 0, GetCode(New(KindNotFound, "x")))
}

func TestAttributes(t *testing.T) {
	err := New(KindNotFound, "missing")
	err = Attr(err, "handle", 7)
	err = Attr(err, "op", "set_up")

	attrs := GetAttributes(err)
	assert.Equal(t, 7, attrs["handle"])
	assert.Equal(t, "set_up", attrs["op"])

	wrapped := Wrap(err, KindInvalidOperation, "failed")
	wrapped = Attr(wrapped, "op", "enslave")

	all := GetAttributes(wrapped)
	assert.Equal(t, "enslave", all["op"])
	assert.Equal(t, 7, all["handle"])

	plain := Attr(errors.New("boom"), "k", "v")
	assert.Equal(t, KindUnknown, GetKind(plain))
	assert.Nil(t, Attr(nil, "k", "v"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "not_slave", KindNotSlave.String())
	assert.Equal(t, "transport_failure", KindTransportFailure.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
