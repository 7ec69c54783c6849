package element

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a payload cannot be decoded
var ErrMalformed = errors.New("element: malformed payload")

// Layout (all integers are varints):
//
//	way:      id, len(nodes), node ids as zigzag deltas, tags
//	relation: id, len(members), {type byte, ref, role}, tags
//	tags:     count, {key, value}
//	string:   length, bytes

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

func appendTags(b []byte, tags []Tag) []byte {
	b = binary.AppendUvarint(b, uint64(len(tags)))
	for _, t := range tags {
		b = appendString(b, t.Key)
		b = appendString(b, t.Value)
	}
	return b
}

// AppendBinary implements encoding.BinaryAppender
func (w *Way) AppendBinary(b []byte) ([]byte, error) {
	b = binary.AppendUvarint(b, w.ID)
	b = binary.AppendUvarint(b, uint64(len(w.Nodes)))
	var prev int64
	for _, id := range w.Nodes {
		b = binary.AppendVarint(b, int64(id)-prev)
		prev = int64(id)
	}
	return appendTags(b, w.Tags), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (w *Way) UnmarshalBinary(data []byte) error {
	d := decoder{data: data}
	w.ID = d.uvarint()

	n := d.count(1)
	w.Nodes = nil
	if n > 0 {
		w.Nodes = make([]uint64, n)
	}
	var prev int64
	for i := 0; i < n; i++ {
		prev += d.varint()
		w.Nodes[i] = uint64(prev)
	}

	w.Tags = d.tags()
	return d.finish()
}

// AppendBinary implements encoding.BinaryAppender
func (r *Relation) AppendBinary(b []byte) ([]byte, error) {
	b = binary.AppendUvarint(b, r.ID)
	b = binary.AppendUvarint(b, uint64(len(r.Members)))
	for _, m := range r.Members {
		b = append(b, byte(m.Type))
		b = binary.AppendUvarint(b, m.Ref)
		b = appendString(b, m.Role)
	}
	return appendTags(b, r.Tags), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (r *Relation) UnmarshalBinary(data []byte) error {
	d := decoder{data: data}
	r.ID = d.uvarint()

	n := d.count(3)
	r.Members = nil
	if n > 0 {
		r.Members = make([]Member, n)
	}
	for i := 0; i < n; i++ {
		r.Members[i] = Member{
			Type: MemberType(d.readByte()),
			Ref:  d.uvarint(),
			Role: d.readString(),
		}
	}

	r.Tags = d.tags()
	return d.finish()
}

// decoder reads varint fields and remembers the first error
type decoder struct {
	data []byte
	pos  int
	err  error
}

func (d *decoder) fail(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: bad %s at byte %d", ErrMalformed, what, d.pos)
	}
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		d.fail("uvarint")
		return 0
	}
	d.pos += n
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.data[d.pos:])
	if n <= 0 {
		d.fail("varint")
		return 0
	}
	d.pos += n
	return v
}

func (d *decoder) readByte() byte {
	if d.err != nil {
		return 0
	}
	if d.pos >= len(d.data) {
		d.fail("byte")
		return 0
	}
	b := d.data[d.pos]
	d.pos++
	return b
}

// count reads an element count and rejects counts that cannot fit in the
// remaining bytes, given each element takes at least minSize bytes
func (d *decoder) count(minSize int) int {
	v := d.uvarint()
	if d.err != nil {
		return 0
	}
	if v > uint64((len(d.data)-d.pos)/minSize) {
		d.fail("count")
		return 0
	}
	return int(v)
}

func (d *decoder) readString() string {
	n := d.count(1)
	if d.err != nil {
		return ""
	}
	s := string(d.data[d.pos : d.pos+n])
	d.pos += n
	return s
}

func (d *decoder) tags() []Tag {
	n := d.count(2)
	if n == 0 {
		return nil
	}
	tags := make([]Tag, n)
	for i := range tags {
		tags[i] = Tag{Key: d.readString(), Value: d.readString()}
	}
	return tags
}

func (d *decoder) finish() error {
	if d.err == nil && d.pos != len(d.data) {
		d.fail("trailing data")
	}
	return d.err
}
