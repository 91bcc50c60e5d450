package capture

// bytesPerBudgetSample is the byte weight of one requested sample. It is
// fixed at 2 whatever the element width of the active format, so float32
// captures stop after half the samples that were asked for.
const bytesPerBudgetSample = 2

// maxBudgetSamples is the exclusive upper bound accepted by NewBudget.
const maxBudgetSamples = uint64(1) << 63

// Accountant applies the optional capture budget to each delivered buffer.
// It is only used from the delivery callback, under the session write lock.
type Accountant struct {
	limited   bool
	remaining uint64
}

// Unlimited returns an accountant that admits everything.
func Unlimited() *Accountant {
	return &Accountant{}
}

// NewBudget returns an accountant that stops after samples*2 bytes.
func NewBudget(samples uint64) (*Accountant, error) {
	if samples >= maxBudgetSamples {
		return nil, ErrBudgetTooLarge
	}
	return &Accountant{limited: true, remaining: samples * bytesPerBudgetSample}, nil
}

// Limited reports whether a budget is in force.
func (a *Accountant) Limited() bool { return a.limited }

// Remaining returns the bytes left in the budget. It is zero for an
// unlimited accountant.
func (a *Accountant) Remaining() uint64 { return a.remaining }

// Admit decides how much of a proposed buffer may be written and whether
// capture must stop afterwards. Nothing is rolled back if the write
// that follows comes up short.
func (a *Accountant) Admit(proposed uint64) (toWrite uint64, stop bool) {
	if !a.limited {
		return proposed, false
	}
	toWrite = proposed
	if toWrite > a.remaining {
		toWrite = a.remaining
	}
	a.remaining -= toWrite
	return toWrite, a.remaining == 0
}
