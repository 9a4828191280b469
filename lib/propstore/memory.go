/* memory.go: an in-process PropertyStore
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

// Package propstore provides PropertyStore backends: the system property
// bus, a bbolt-persisted store, and an in-memory store.
package propstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kraken-hpc/chassisd/lib/types"
)

var _ types.PropertyStore = (*Memory)(nil)

// Write is one recorded Set call
type Write struct {
	Service string
	Path    string
	Iface   string
	Prop    string
	Value   interface{}
}

func (w Write) String() string {
	return fmt.Sprintf("%s %s %s.%s=%v", w.Service, w.Path, w.Iface, w.Prop, w.Value)
}

type memObject struct {
	service string
	ifaces  map[string]types.PropertyMap
}

// Memory is a PropertyStore held entirely in memory.
// It records every Set and can be told to fail chosen calls.
type Memory struct {
	mutex    sync.Mutex
	objects  map[string]*memObject
	writes   []Write
	failures map[string]error
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		objects:  map[string]*memObject{},
		failures: map[string]error{},
	}
}

// AddObject declares an object at path owned by service, implementing ifaces
func (m *Memory) AddObject(service, path string, ifaces ...string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	o, ok := m.objects[path]
	if !ok {
		o = &memObject{ifaces: map[string]types.PropertyMap{}}
		m.objects[path] = o
	}
	o.service = service
	for _, i := range ifaces {
		if _, ok := o.ifaces[i]; !ok {
			o.ifaces[i] = types.PropertyMap{}
		}
	}
}

// Put seeds a property value without recording a write
func (m *Memory) Put(path, iface, prop string, value interface{}) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	o, ok := m.objects[path]
	if !ok {
		o = &memObject{ifaces: map[string]types.PropertyMap{}}
		m.objects[path] = o
	}
	if _, ok := o.ifaces[iface]; !ok {
		o.ifaces[iface] = types.PropertyMap{}
	}
	o.ifaces[iface][prop] = value
}

// Writes returns the Set calls that succeeded, in order
func (m *Memory) Writes() []Write {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Write{}, m.writes...)
}

// ResetWrites forgets the recorded writes
func (m *Memory) ResetWrites() {
	m.mutex.Lock()
	m.writes = nil
	m.mutex.Unlock()
}

// FailSet makes Set of iface.prop return err; nil err clears the failure
func (m *Memory) FailSet(iface, prop string, err error) { m.fail("Set", iface+"."+prop, err) }

// FailGet makes Get of iface.prop return err
func (m *Memory) FailGet(iface, prop string, err error) { m.fail("Get", iface+"."+prop, err) }

// FailGetAll makes GetAll of iface return err
func (m *Memory) FailGetAll(iface string, err error) { m.fail("GetAll", iface, err) }

// FailFind makes FindObject for iface return err
func (m *Memory) FailFind(iface string, err error) { m.fail("FindObject", iface, err) }

// FailService makes FindService for path return err
func (m *Memory) FailService(path string, err error) { m.fail("FindService", path, err) }

func (m *Memory) fail(method, target string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	key := method + " " + target
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

// failure must be called with the lock held
func (m *Memory) failure(method, target string) error {
	return m.failures[method+" "+target]
}

func (m *Memory) lookup(service, path, iface string) (types.PropertyMap, error) {
	o, ok := m.objects[path]
	if !ok {
		return nil, types.NewError(types.KindLookup, nil, "no object at %s", path)
	}
	if service != "" && o.service != service {
		return nil, types.NewError(types.KindLookup, nil, "object %s is not owned by %s", path, service)
	}
	props, ok := o.ifaces[iface]
	if !ok {
		return nil, types.NewError(types.KindLookup, nil, "object %s does not implement %s", path, iface)
	}
	return props, nil
}

func (m *Memory) Get(service, path, iface, prop string) (interface{}, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e := m.failure("Get", iface+"."+prop); e != nil {
		return nil, types.NewError(types.KindTransport, e, "get %s.%s on %s", iface, prop, path)
	}
	props, e := m.lookup(service, path, iface)
	if e != nil {
		return nil, e
	}
	v, ok := props[prop]
	if !ok {
		return nil, types.NewError(types.KindLookup, nil, "property %s.%s missing on %s", iface, prop, path)
	}
	return v, nil
}

func (m *Memory) GetAll(service, path, iface string) (types.PropertyMap, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e := m.failure("GetAll", iface); e != nil {
		return nil, types.NewError(types.KindTransport, e, "get all %s on %s", iface, path)
	}
	props, e := m.lookup(service, path, iface)
	if e != nil {
		return nil, e
	}
	r := types.PropertyMap{}
	for k, v := range props {
		r[k] = v
	}
	return r, nil
}

func (m *Memory) Set(service, path, iface, prop string, value interface{}) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e := m.failure("Set", iface+"."+prop); e != nil {
		return types.NewError(types.KindTransport, e, "set %s.%s on %s", iface, prop, path)
	}
	props, e := m.lookup(service, path, iface)
	if e != nil {
		return e
	}
	props[prop] = value
	m.writes = append(m.writes, Write{
		Service: service,
		Path:    path,
		Iface:   iface,
		Prop:    prop,
		Value:   value,
	})
	return nil
}

func (m *Memory) FindObject(iface, root, match string) (types.ObjectInfo, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e := m.failure("FindObject", iface); e != nil {
		return types.ObjectInfo{}, types.NewError(types.KindTransport, e, "find %s under %s", iface, root)
	}
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		o := m.objects[p]
		if !underRoot(p, root) || !strings.Contains(p, match) {
			continue
		}
		if _, ok := o.ifaces[iface]; ok {
			return types.ObjectInfo{Path: p, Service: o.service}, nil
		}
	}
	return types.ObjectInfo{}, types.NewError(types.KindLookup, nil, "no object under %s implements %s matching %q", root, iface, match)
}

func (m *Memory) FindService(path string) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e := m.failure("FindService", path); e != nil {
		return "", types.NewError(types.KindTransport, e, "find service for %s", path)
	}
	o, ok := m.objects[path]
	if !ok || o.service == "" {
		return "", types.NewError(types.KindLookup, nil, "no service owns %s", path)
	}
	return o.service, nil
}

func underRoot(path, root string) bool {
	if root == "" || root == "/" {
		return true
	}
	return path == root || strings.HasPrefix(path, strings.TrimSuffix(root, "/")+"/")
}
