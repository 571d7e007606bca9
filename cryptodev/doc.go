// Package cryptodev provides the contract of symmetric crypto accelerator
// devices: capabilities, native transform chains, queue pairs and crypto
// operations.
//
// Devices are created by drivers registered with Register,
// a DeviceConfig lists the drivers to try in order of preference.
// The swdev subpackage provides a software device backed by the Go crypto
// libraries, and p11dev exposes PKCS#11 tokens as devices.
package cryptodev

import "github.com/effective-security/xlog"

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev", "cryptodev")
