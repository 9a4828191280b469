/* packer.go: reflect driven packing of fixed-layout wire structs
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package ipmi

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// A Packer packs and unpacks structs whose fields carry a `pack:""` tag.
// Recognized flags (comma separated):
//   zeros          - field is reserved; written as zeros, ignored on read
//   cksum2         - uint8 two's complement checksum of everything packed so far
//   len=Field      - uint8 holding the byte length of Field (Pack)
//   lenfrom=Field  - slice whose length is the value of the uint8 Field (Unpack)
//   fill=N         - slice takes the remaining bytes, adjusted by N (Unpack)
//   authcodelen=F  - slice is 16 bytes unless the uint8 F is IPMIAuthTypeNONE
// Fields without a pack tag are skipped.
type Packer struct {
	ByteOrder binary.ByteOrder
}

func (p Packer) parseArgs(args string) map[string]string {
	r := make(map[string]string)
	argv := strings.Split(args, ",")
	for _, arg := range argv {
		pair := strings.SplitN(arg, "=", 2)
		if len(pair) == 2 {
			r[strings.TrimSpace(pair[0])] = strings.TrimSpace(pair[1])
		} else {
			r[strings.TrimSpace(pair[0])] = ""
		}
	}
	return r
}

// Cksum2 computes the IPMI two's complement checksum of buf
func (p Packer) Cksum2(buf []byte) uint8 {
	i := 0
	for _, b := range buf {
		i = (i + int(b)) % 256
	}
	i = -i
	return uint8(i)
}

// Pack serializes packet (a struct or pointer to struct) to bytes.
// Fields flagged cksum2 or len= are filled in on the struct as a side effect
// when packet is a pointer.
func (p Packer) Pack(packet interface{}) (b []byte, e []error) {
	sv := reflect.Indirect(reflect.ValueOf(packet))
	st := sv.Type()
	if st.Kind() != reflect.Struct {
		e = append(e, fmt.Errorf("not a struct: %v", st))
		return
	}
	buf := make([]byte, 0, 64)
	for i := 0; i < st.NumField(); i++ {
		ft := st.Field(i)
		fv := sv.Field(i)
		flagStr, ok := ft.Tag.Lookup("pack")
		if !ok {
			continue
		}
		flags := p.parseArgs(flagStr)
		_, zeros := flags["zeros"]

		switch ft.Type.Kind() {
		case reflect.Array, reflect.Slice:
			if ft.Type.Elem().Kind() != reflect.Uint8 {
				e = append(e, fmt.Errorf("%s: arrays must be of bytes", ft.Name))
				continue
			}
			chunk := make([]byte, fv.Len())
			if !zeros {
				reflect.Copy(reflect.ValueOf(chunk), fv)
			}
			buf = append(buf, chunk...)
		case reflect.Uint8:
			var v uint8
			switch {
			case zeros:
			case hasFlag(flags, "cksum2"):
				v = p.Cksum2(buf)
			case hasFlag(flags, "len"):
				refv := sv.FieldByName(flags["len"])
				if !refv.IsValid() || (refv.Kind() != reflect.Array && refv.Kind() != reflect.Slice) {
					e = append(e, fmt.Errorf("%s: len refers to invalid field %q", ft.Name, flags["len"]))
					continue
				}
				if refv.Len() > 0xff {
					e = append(e, fmt.Errorf("%s: %s is too long for a length byte: %d", ft.Name, flags["len"], refv.Len()))
					continue
				}
				v = uint8(refv.Len())
			default:
				v = uint8(fv.Uint())
			}
			if fv.CanSet() && !zeros {
				fv.SetUint(uint64(v))
			}
			buf = append(buf, v)
		case reflect.Uint16:
			tmp := make([]byte, 2)
			if !zeros {
				p.ByteOrder.PutUint16(tmp, uint16(fv.Uint()))
			}
			buf = append(buf, tmp...)
		case reflect.Uint32:
			tmp := make([]byte, 4)
			if !zeros {
				p.ByteOrder.PutUint32(tmp, uint32(fv.Uint()))
			}
			buf = append(buf, tmp...)
		case reflect.Uint64:
			tmp := make([]byte, 8)
			if !zeros {
				p.ByteOrder.PutUint64(tmp, fv.Uint())
			}
			buf = append(buf, tmp...)
		default:
			e = append(e, fmt.Errorf("%s: unhandled kind: %v", ft.Name, ft.Type.Kind()))
		}
	}
	b = buf
	return
}

// Unpack fills packet (a pointer to struct) from b.
// Every field access is checked against len(b); a short buffer is an error, not a panic.
func (p Packer) Unpack(b []byte, packet interface{}) (e []error) {
	rv := reflect.ValueOf(packet)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		e = append(e, fmt.Errorf("unpack needs a non-nil pointer, got %T", packet))
		return
	}
	sv := rv.Elem()
	st := sv.Type()
	if st.Kind() != reflect.Struct {
		e = append(e, fmt.Errorf("not a struct: %v", st))
		return
	}
	last := 0
	need := func(name string, n int) bool {
		if n < 0 || last+n > len(b) {
			e = append(e, fmt.Errorf("%s: short buffer: need %d bytes at offset %d, have %d", name, n, last, len(b)))
			return false
		}
		return true
	}

	for i := 0; i < st.NumField(); i++ {
		ft := st.Field(i)
		fv := sv.Field(i)
		flagStr, ok := ft.Tag.Lookup("pack")
		if !ok {
			continue
		}
		flags := p.parseArgs(flagStr)
		_, zeros := flags["zeros"]
		set := !zeros && fv.CanSet()

		switch ft.Type.Kind() {
		case reflect.Array:
			if ft.Type.Elem().Kind() != reflect.Uint8 {
				e = append(e, fmt.Errorf("%s: arrays must be of bytes", ft.Name))
				return
			}
			n := ft.Type.Len()
			if !need(ft.Name, n) {
				return
			}
			if set {
				reflect.Copy(fv, reflect.ValueOf(b[last:last+n]))
			}
			last += n
		case reflect.Slice:
			if ft.Type.Elem().Kind() != reflect.Uint8 {
				e = append(e, fmt.Errorf("%s: slices must be of bytes", ft.Name))
				return
			}
			n := len(b) - last
			if offStr, ok := flags["fill"]; ok {
				off, err := strconv.Atoi(offStr)
				if err != nil {
					e = append(e, fmt.Errorf("%s: bad fill value: %v", ft.Name, err))
					return
				}
				n += off
			}
			if ref, ok := flags["lenfrom"]; ok {
				lv := sv.FieldByName(ref)
				if !lv.IsValid() || lv.Kind() != reflect.Uint8 {
					e = append(e, fmt.Errorf("%s: lenfrom refers to invalid field %q", ft.Name, ref))
					return
				}
				n = int(lv.Uint())
			}
			if ref, ok := flags["authcodelen"]; ok {
				ac := sv.FieldByName(ref)
				if !ac.IsValid() || ac.Kind() != reflect.Uint8 {
					e = append(e, fmt.Errorf("%s: called authcodelen on invalid type", ft.Name))
					return
				}
				if uint8(ac.Uint()) == IPMIAuthTypeNONE {
					n = 0
				} else {
					n = 16
				}
			}
			if !need(ft.Name, n) {
				return
			}
			if set {
				d := make([]byte, n)
				copy(d, b[last:last+n])
				fv.SetBytes(d)
			}
			last += n
		case reflect.Uint8:
			if !need(ft.Name, 1) {
				return
			}
			if hasFlag(flags, "cksum2") {
				if ck := p.Cksum2(b[0:last]); ck != b[last] {
					e = append(e, fmt.Errorf("%s: checksum mismatch: %x != %x", ft.Name, ck, b[last]))
				}
			}
			if set {
				fv.SetUint(uint64(b[last]))
			}
			last++
		case reflect.Uint16:
			if !need(ft.Name, 2) {
				return
			}
			if set {
				fv.SetUint(uint64(p.ByteOrder.Uint16(b[last:])))
			}
			last += 2
		case reflect.Uint32:
			if !need(ft.Name, 4) {
				return
			}
			if set {
				fv.SetUint(uint64(p.ByteOrder.Uint32(b[last:])))
			}
			last += 4
		case reflect.Uint64:
			if !need(ft.Name, 8) {
				return
			}
			if set {
				fv.SetUint(p.ByteOrder.Uint64(b[last:]))
			}
			last += 8
		default:
			e = append(e, fmt.Errorf("%s: unhandled kind: %v", ft.Name, ft.Type.Kind()))
			return
		}
	}
	return
}

// PackMust packs i, returning the first error as a single error
func (p Packer) PackMust(i interface{}) ([]byte, error) {
	b, es := p.Pack(i)
	if len(es) > 0 {
		return nil, es[0]
	}
	return b, nil
}

// UnpackMust unpacks b into i, returning the first error as a single error
func (p Packer) UnpackMust(b []byte, i interface{}) error {
	if es := p.Unpack(b, i); len(es) > 0 {
		return es[0]
	}
	return nil
}

func hasFlag(flags map[string]string, f string) bool {
	_, ok := flags[f]
	return ok
}
