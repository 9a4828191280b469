/* bolt.go: a PropertyStore persisted in a bbolt database
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package propstore

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v2"

	"github.com/kraken-hpc/chassisd/lib/types"
)

var _ types.PropertyStore = (*Bolt)(nil)

/*
 * Layout:
 *   objects/<path> = <service>
 *   properties/<path>/<iface>/<prop> = yaml storedValue
 */
const (
	bucketObjects    = "objects"
	bucketProperties = "properties"
)

// Bolt keeps objects and property values across restarts.
// It stands in for the property bus on benches without one.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the database at path
func OpenBolt(path string, timeout time.Duration) (*Bolt, error) {
	if e := os.MkdirAll(filepath.Dir(path), 0755); e != nil {
		return nil, errors.Wrapf(e, "could not create directory for %s", path)
	}
	db, e := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if e != nil {
		return nil, errors.Wrapf(e, "could not open %s", path)
	}
	if e = db.Update(func(tx *bolt.Tx) error {
		for _, b := range []string{bucketObjects, bucketProperties} {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return errors.Wrapf(err, "could not create %s bucket", b)
			}
		}
		return nil
	}); e != nil {
		db.Close()
		return nil, e
	}
	return &Bolt{db: db}, nil
}

// Close releases the database
func (b *Bolt) Close() error { return b.db.Close() }

// AddObject declares an object at path owned by service, implementing ifaces
func (b *Bolt) AddObject(service, path string, ifaces ...string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if e := tx.Bucket([]byte(bucketObjects)).Put([]byte(path), []byte(service)); e != nil {
			return errors.Wrapf(e, "could not record object %s", path)
		}
		ob, e := tx.Bucket([]byte(bucketProperties)).CreateBucketIfNotExists([]byte(path))
		if e != nil {
			return errors.Wrapf(e, "could not create bucket for %s", path)
		}
		for _, i := range ifaces {
			if _, e := ob.CreateBucketIfNotExists([]byte(i)); e != nil {
				return errors.Wrapf(e, "could not create bucket for %s on %s", i, path)
			}
		}
		return nil
	})
}

// Put seeds a property value on an existing object and interface
func (b *Bolt) Put(path, iface, prop string, value interface{}) error {
	return b.Set("", path, iface, prop, value)
}

// ifaceBucket finds the bucket for iface on path, checking the owning service when given
func ifaceBucket(tx *bolt.Tx, service, path, iface string) (*bolt.Bucket, error) {
	owner := tx.Bucket([]byte(bucketObjects)).Get([]byte(path))
	if owner == nil {
		return nil, types.NewError(types.KindLookup, nil, "no object at %s", path)
	}
	if service != "" && string(owner) != service {
		return nil, types.NewError(types.KindLookup, nil, "object %s is not owned by %s", path, service)
	}
	ob := tx.Bucket([]byte(bucketProperties)).Bucket([]byte(path))
	if ob == nil {
		return nil, types.NewError(types.KindLookup, nil, "object %s has no interfaces", path)
	}
	ib := ob.Bucket([]byte(iface))
	if ib == nil {
		return nil, types.NewError(types.KindLookup, nil, "object %s does not implement %s", path, iface)
	}
	return ib, nil
}

func (b *Bolt) Get(service, path, iface, prop string) (v interface{}, e error) {
	e = b.db.View(func(tx *bolt.Tx) error {
		ib, err := ifaceBucket(tx, service, path, iface)
		if err != nil {
			return err
		}
		raw := ib.Get([]byte(prop))
		if raw == nil {
			return types.NewError(types.KindLookup, nil, "property %s.%s missing on %s", iface, prop, path)
		}
		v, err = decodeValue(raw)
		return err
	})
	return
}

func (b *Bolt) GetAll(service, path, iface string) (props types.PropertyMap, e error) {
	e = b.db.View(func(tx *bolt.Tx) error {
		ib, err := ifaceBucket(tx, service, path, iface)
		if err != nil {
			return err
		}
		props = types.PropertyMap{}
		return ib.ForEach(func(k, raw []byte) error {
			v, err := decodeValue(raw)
			if err != nil {
				return err
			}
			props[string(k)] = v
			return nil
		})
	})
	return
}

func (b *Bolt) Set(service, path, iface, prop string, value interface{}) error {
	raw, e := encodeValue(value)
	if e != nil {
		return e
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		ib, err := ifaceBucket(tx, service, path, iface)
		if err != nil {
			return err
		}
		if err = ib.Put([]byte(prop), raw); err != nil {
			return types.NewError(types.KindTransport, err, "set %s.%s on %s", iface, prop, path)
		}
		return nil
	})
}

func (b *Bolt) FindObject(iface, root, match string) (o types.ObjectInfo, e error) {
	e = b.db.View(func(tx *bolt.Tx) error {
		props := tx.Bucket([]byte(bucketProperties))
		c := tx.Bucket([]byte(bucketObjects)).Cursor()
		// keys come back in byte order
		for k, svc := c.First(); k != nil; k, svc = c.Next() {
			p := string(k)
			if !underRoot(p, root) || !strings.Contains(p, match) {
				continue
			}
			if ob := props.Bucket(k); ob != nil && ob.Bucket([]byte(iface)) != nil {
				o = types.ObjectInfo{Path: p, Service: string(svc)}
				return nil
			}
		}
		return types.NewError(types.KindLookup, nil, "no object under %s implements %s matching %q", root, iface, match)
	})
	return
}

func (b *Bolt) FindService(path string) (s string, e error) {
	e = b.db.View(func(tx *bolt.Tx) error {
		svc := tx.Bucket([]byte(bucketObjects)).Get([]byte(path))
		if len(svc) == 0 {
			return types.NewError(types.KindLookup, nil, "no service owns %s", path)
		}
		s = string(svc)
		return nil
	})
	return
}

/*
 * Values are stored with their type so a uint8 comes back a uint8
 */

type storedValue struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

func encodeValue(v interface{}) ([]byte, error) {
	var sv storedValue
	switch t := v.(type) {
	case string:
		sv = storedValue{"string", t}
	case bool:
		sv = storedValue{"bool", strconv.FormatBool(t)}
	case uint8:
		sv = storedValue{"byte", strconv.FormatUint(uint64(t), 10)}
	case int32:
		sv = storedValue{"int32", strconv.FormatInt(int64(t), 10)}
	case uint32:
		sv = storedValue{"uint32", strconv.FormatUint(uint64(t), 10)}
	case int:
		sv = storedValue{"int", strconv.Itoa(t)}
	case int64:
		sv = storedValue{"int64", strconv.FormatInt(t, 10)}
	case float64:
		sv = storedValue{"double", strconv.FormatFloat(t, 'g', -1, 64)}
	default:
		return nil, types.NewError(types.KindUnsupported, nil, "cannot store a %T", v)
	}
	return yaml.Marshal(&sv)
}

func decodeValue(raw []byte) (interface{}, error) {
	var sv storedValue
	if e := yaml.Unmarshal(raw, &sv); e != nil {
		return nil, types.NewError(types.KindDecode, e, "stored property value")
	}
	var v interface{}
	var e error
	switch sv.Type {
	case "string":
		v = sv.Value
	case "bool":
		v, e = strconv.ParseBool(sv.Value)
	case "byte":
		var n uint64
		n, e = strconv.ParseUint(sv.Value, 10, 8)
		v = uint8(n)
	case "int32":
		var n int64
		n, e = strconv.ParseInt(sv.Value, 10, 32)
		v = int32(n)
	case "uint32":
		var n uint64
		n, e = strconv.ParseUint(sv.Value, 10, 32)
		v = uint32(n)
	case "int":
		v, e = strconv.Atoi(sv.Value)
	case "int64":
		v, e = strconv.ParseInt(sv.Value, 10, 64)
	case "double":
		v, e = strconv.ParseFloat(sv.Value, 64)
	default:
		return nil, types.NewError(types.KindDecode, nil, "unknown stored type %q", sv.Type)
	}
	if e != nil {
		return nil, types.NewError(types.KindDecode, e, "stored %s value %q", sv.Type, sv.Value)
	}
	return v, nil
}
