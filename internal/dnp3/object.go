package dnp3

// ObjectHeaderMinLen covers group, variation and qualifier.
const ObjectHeaderMinLen = 3

// ObjectHeader is the prefix identifying the data object that follows it.
type ObjectHeader struct {
	Group     uint8
	Variation uint8
	Qualifier uint8
}

// ParseObjectHeader decodes the object header at the start of buf.
func ParseObjectHeader(buf []byte) (ObjectHeader, bool) {
	if len(buf) < ObjectHeaderMinLen {
		return ObjectHeader{}, false
	}
	return ObjectHeader{Group: buf[0], Variation: buf[1], Qualifier: buf[2]}, true
}

// DecodeObject reports whether the first object header in buf has the given
// group and variation. The qualifier is not compared.
//
// Only the leading header is inspected; later object headers in the same
// fragment never match.
func DecodeObject(buf []byte, group, variation uint8) bool {
	hdr, ok := ParseObjectHeader(buf)
	if !ok {
		return false
	}
	return hdr.Group == group && hdr.Variation == variation
}
