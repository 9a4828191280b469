/* bus.go: a PropertyStore over the system D-Bus
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package propstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/kraken-hpc/chassisd/lib/types"
)

var _ types.PropertyStore = (*Bus)(nil)

const (
	MapperService = "xyz.openbmc_project.ObjectMapper"
	MapperPath    = "/xyz/openbmc_project/object_mapper"
	MapperIface   = "xyz.openbmc_project.ObjectMapper"

	propertiesIface = "org.freedesktop.DBus.Properties"
)

// DefaultCallTimeout bounds one bus method call
const DefaultCallTimeout = 5 * time.Second

// Bus talks to services on the system bus, resolving objects through the object mapper
type Bus struct {
	conn    *dbus.Conn
	Timeout time.Duration
}

// ConnectBus opens a private connection to the system bus
func ConnectBus() (*Bus, error) {
	conn, e := dbus.ConnectSystemBus()
	if e != nil {
		return nil, types.NewError(types.KindTransport, e, "connect to system bus")
	}
	return &Bus{conn: conn, Timeout: DefaultCallTimeout}, nil
}

// Close releases the bus connection
func (b *Bus) Close() error { return b.conn.Close() }

func (b *Bus) call(service, path, method string, args ...interface{}) *dbus.Call {
	ctx, cancel := context.WithTimeout(context.Background(), b.Timeout)
	defer cancel()
	return b.conn.Object(service, dbus.ObjectPath(path)).CallWithContext(ctx, method, 0, args...)
}

func (b *Bus) Get(service, path, iface, prop string) (interface{}, error) {
	var v dbus.Variant
	if e := b.call(service, path, propertiesIface+".Get", iface, prop).Store(&v); e != nil {
		return nil, types.NewError(types.KindTransport, errors.Wrapf(e, "%s %s", service, path), "get %s.%s", iface, prop)
	}
	return v.Value(), nil
}

func (b *Bus) GetAll(service, path, iface string) (types.PropertyMap, error) {
	var vs map[string]dbus.Variant
	if e := b.call(service, path, propertiesIface+".GetAll", iface).Store(&vs); e != nil {
		return nil, types.NewError(types.KindTransport, errors.Wrapf(e, "%s %s", service, path), "get all %s", iface)
	}
	props := make(types.PropertyMap, len(vs))
	for k, v := range vs {
		props[k] = v.Value()
	}
	return props, nil
}

func (b *Bus) Set(service, path, iface, prop string, value interface{}) error {
	if e := b.call(service, path, propertiesIface+".Set", iface, prop, dbus.MakeVariant(value)).Err; e != nil {
		return types.NewError(types.KindTransport, errors.Wrapf(e, "%s %s", service, path), "set %s.%s", iface, prop)
	}
	return nil
}

// FindObject asks the mapper for the subtree under root implementing iface
func (b *Bus) FindObject(iface, root, match string) (types.ObjectInfo, error) {
	var tree map[string]map[string][]string
	if e := b.call(MapperService, MapperPath, MapperIface+".GetSubTree", root, int32(0), []string{iface}).Store(&tree); e != nil {
		return types.ObjectInfo{}, types.NewError(types.KindTransport, e, "mapper subtree of %s for %s", root, iface)
	}
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if !strings.Contains(p, match) {
			continue
		}
		if svc := firstService(tree[p]); svc != "" {
			return types.ObjectInfo{Path: p, Service: svc}, nil
		}
	}
	return types.ObjectInfo{}, types.NewError(types.KindLookup, nil, "no object under %s implements %s matching %q", root, iface, match)
}

// FindService asks the mapper which service owns path
func (b *Bus) FindService(path string) (string, error) {
	var owners map[string][]string
	if e := b.call(MapperService, MapperPath, MapperIface+".GetObject", path, []string{}).Store(&owners); e != nil {
		return "", types.NewError(types.KindTransport, e, "mapper object %s", path)
	}
	if svc := firstService(owners); svc != "" {
		return svc, nil
	}
	return "", types.NewError(types.KindLookup, nil, "no service owns %s", path)
}

func firstService(owners map[string][]string) string {
	svcs := make([]string, 0, len(owners))
	for s := range owners {
		svcs = append(svcs, s)
	}
	if len(svcs) == 0 {
		return ""
	}
	sort.Strings(svcs)
	return svcs[0]
}
