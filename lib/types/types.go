/* types.go - Defines core interface types
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package types

/*
 * Property store - the bus we read and write host configuration through
 */

// PropertyMap is a set of named property values, as returned by GetAll
type PropertyMap map[string]interface{}

// ObjectInfo identifies an object on the property bus and the service that owns it
type ObjectInfo struct {
	Path    string
	Service string
}

// PropertyStore is the property-bus collaborator.
// Every call is a single blocking request/response; timeouts belong to the implementation.
type PropertyStore interface {
	Get(service, path, iface, prop string) (interface{}, error)
	GetAll(service, path, iface string) (PropertyMap, error)
	Set(service, path, iface, prop string, value interface{}) error

	// FindObject returns the first object under root implementing iface
	// whose path contains match. An empty match selects the first object.
	FindObject(iface, root, match string) (ObjectInfo, error)
	// FindService returns the first service that owns the object at path
	FindService(path string) (string, error)
}

/*
 * Errors
 */

// Kind classifies failures so the command boundary can pick a completion code
type Kind uint8

const (
	KindUnknown     Kind = iota
	KindLookup           // object or property discovery found nothing
	KindTransport        // a get/set call itself failed
	KindDecode           // inbound data failed validation
	KindUnsupported      // unknown parameter or action
	KindDownstream       // host-state or soft-off call failed
)

var KindString = map[Kind]string{
	KindUnknown:     "unknown",
	KindLookup:      "lookup failure",
	KindTransport:   "transport failure",
	KindDecode:      "decode validation failure",
	KindUnsupported: "unsupported parameter",
	KindDownstream:  "downstream call failure",
}

func (k Kind) String() string {
	if s, ok := KindString[k]; ok {
		return s
	}
	return KindString[KindUnknown]
}
