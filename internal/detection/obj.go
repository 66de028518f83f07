package detection

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/wiretap/dnp3ips/internal/dnp3"
	"github.com/wiretap/dnp3ips/internal/model"
)

// ObjOptionName is the rule keyword of the object header option.
const ObjOptionName = "dnp3_obj"

// objIdentity is the hashed identity of an ObjOption.
type objIdentity struct {
	Kind      string
	Group     uint8
	Variation uint8
}

// ObjOption matches flows whose current DNP3 fragment starts with an object
// header of a given group and variation.
type ObjOption struct {
	group     uint8
	variation uint8
	hash      uint64
}

// NewObjOption validates group and variation and builds the option.
func NewObjOption(group, variation int64) (*ObjOption, error) {
	if group < 0 || group > 255 {
		return nil, fmt.Errorf("%w: %s group %d out of range 0:255", ErrInvalidOption, ObjOptionName, group)
	}
	if variation < 0 || variation > 255 {
		return nil, fmt.Errorf("%w: %s var %d out of range 0:255", ErrInvalidOption, ObjOptionName, variation)
	}

	opt := &ObjOption{group: uint8(group), variation: uint8(variation)}
	h, err := hashstructure.Hash(objIdentity{
		Kind:      ObjOptionName,
		Group:     opt.group,
		Variation: opt.variation,
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", ObjOptionName, err)
	}
	opt.hash = h
	return opt, nil
}

// Name implements Option.
func (o *ObjOption) Name() string { return ObjOptionName }

// Hash implements Option.
func (o *ObjOption) Hash() uint64 { return o.hash }

// Group returns the configured object group.
func (o *ObjOption) Group() uint8 { return o.group }

// Variation returns the configured object variation.
func (o *ObjOption) Variation() uint8 { return o.variation }

// Equal implements Option.
func (o *ObjOption) Equal(other Option) bool {
	if other == nil || other.Name() != o.Name() {
		return false
	}
	rhs, ok := other.(*ObjOption)
	if !ok {
		return false
	}
	return o.group == rhs.group && o.variation == rhs.variation
}

// String implements Option.
func (o *ObjOption) String() string {
	return fmt.Sprintf("%s: group %d, var %d;", ObjOptionName, o.group, o.variation)
}

// Eval implements Option.
func (o *ObjOption) Eval(pkt *model.Packet) Verdict {
	if pkt == nil {
		return NoMatch
	}
	// Partial TCP data is never evaluated.
	if pkt.HasTCPData() && !pkt.IsFullPDU() {
		return NoMatch
	}
	if pkt.Flow == nil || pkt.Dsize() == 0 {
		return NoMatch
	}

	sess := dnp3.SessionFromFlow(pkt.Flow)
	if sess == nil {
		return NoMatch
	}

	rec, headerSize := sess.Current()
	if rec.State() != dnp3.StateComplete {
		return NoMatch
	}

	buf := rec.Bytes()
	if len(buf) < headerSize {
		return NoMatch
	}

	if dnp3.DecodeObject(buf[headerSize:], o.group, o.variation) {
		return Match
	}
	return NoMatch
}
