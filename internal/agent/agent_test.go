package agent_test

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"

	"github.com/micro-nova/sync-sonic-go/internal/agent"
)

func TestRequestConfirmationRejectsReservedRemote(t *testing.T) {
	a := agent.New(nil, "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	err := a.RequestConfirmation(dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"), 123456)
	assert.NotNil(t, err)
}

func TestRequestConfirmationAcceptsOtherRemotes(t *testing.T) {
	a := agent.New(nil, "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	err := a.RequestConfirmation(dbus.ObjectPath("/org/bluez/hci1/dev_11_22_33_44_55_66"), 123456)
	assert.Nil(t, err)
}

func TestAuthorizeServiceRejectsReservedRemote(t *testing.T) {
	a := agent.New(nil, "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	err := a.AuthorizeService(dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"), "0000110b-0000-1000-8000-00805f9b34fb")
	assert.NotNil(t, err)
}

func TestAuthorizeServiceAcceptsSpeakers(t *testing.T) {
	a := agent.New(nil, "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	err := a.AuthorizeService(dbus.ObjectPath("/org/bluez/hci1/dev_11_22_33_44_55_66"), "0000110b-0000-1000-8000-00805f9b34fb")
	assert.Nil(t, err)
}

func TestSetReservedRemoteUpdatesExclusion(t *testing.T) {
	a := agent.New(nil, "")
	path := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	assert.Nil(t, a.RequestConfirmation(path, 0), "empty reservedRemote must reject nothing")

	a.SetReservedRemote(string(path))
	assert.NotNil(t, a.RequestConfirmation(path, 0))
}
