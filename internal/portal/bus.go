// Package portal is a client for the XDG desktop ScreenCast portal.
package portal

import (
	"crypto/rand"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	objectName        = "org.freedesktop.portal.Desktop"
	objectPath        = "/org/freedesktop/portal/desktop"
	callBaseName      = "org.freedesktop.portal"
	propertiesGetName = "org.freedesktop.DBus.Properties.Get"

	requestInterface = callBaseName + ".Request"
	responseMember   = "Response"
	sessionClose     = callBaseName + ".Session.Close"
	requestClose     = requestInterface + ".Close"
)

var (
	boolSignature   = dbus.SignatureOfType(reflect.TypeOf(false))
	stringSignature = dbus.SignatureOfType(reflect.TypeOf(""))
	uint32Signature = dbus.SignatureOfType(reflect.TypeOf(uint32(0)))
)

func variantBool(v bool) dbus.Variant {
	return dbus.MakeVariantWithSignature(v, boolSignature)
}

func variantString(v string) dbus.Variant {
	return dbus.MakeVariantWithSignature(v, stringSignature)
}

func variantUint32(v uint32) dbus.Variant {
	return dbus.MakeVariantWithSignature(v, uint32Signature)
}

// newToken returns a handle token unique enough for one process.
func newToken() string {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<32))
	return "screenrec" + strconv.FormatUint(n.Uint64(), 16)
}

// requestPath is the object path the portal will use for a request made with
// token by the connection's unique name.
func requestPath(uniqueName, token string) dbus.ObjectPath {
	sender := strings.TrimPrefix(uniqueName, ":")
	sender = strings.ReplaceAll(sender, ".", "_")
	return dbus.ObjectPath(objectPath + "/request/" + sender + "/" + token)
}

func uniqueName(conn *dbus.Conn) string {
	names := conn.Names()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func getProperty(conn *dbus.Conn, iface, property string) (any, error) {
	obj := conn.Object(objectName, objectPath)
	call := obj.Call(propertiesGetName, 0, iface, property)
	if call.Err != nil {
		return nil, call.Err
	}
	var value any
	err := call.Store(&value)
	return value, err
}
