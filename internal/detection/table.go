package detection

// OptionTable interns options so that logically identical options loaded
// from different rules share one instance and one slot.
type OptionTable struct {
	buckets map[uint64][]entry
	options []Option
}

type entry struct {
	opt  Option
	slot int
}

// NewOptionTable creates an empty table.
func NewOptionTable() *OptionTable {
	return &OptionTable{buckets: make(map[uint64][]entry)}
}

// Intern returns the canonical instance equal to opt and its slot index.
func (t *OptionTable) Intern(opt Option) (Option, int) {
	h := opt.Hash()
	for _, e := range t.buckets[h] {
		if e.opt.Equal(opt) {
			return e.opt, e.slot
		}
	}
	slot := len(t.options)
	t.options = append(t.options, opt)
	t.buckets[h] = append(t.buckets[h], entry{opt: opt, slot: slot})
	return opt, slot
}

// Len returns the number of distinct options.
func (t *OptionTable) Len() int {
	return len(t.options)
}

// Options returns the distinct options in slot order.
func (t *OptionTable) Options() []Option {
	return t.options
}
