package api

import "sync"

// OrCondition waits for the first of several branches. The first branch
// to activate wins: its value becomes the OrCondition's value and every
// other branch is interrupted. A typical use is "reply OR timeout".
type OrCondition struct {
	Base
	Conds []Condition

	mu     sync.Mutex
	armed  int
	done   bool
	winner int
}

// Or builds an OrCondition over conds. Parking an OrCondition without
// branches fails with ErrNoConditions.
func Or(conds ...Condition) *OrCondition {
	return &OrCondition{Conds: conds, winner: -1}
}

// Validate implements Validator.
func (o *OrCondition) Validate() error {
	if len(o.Conds) == 0 {
		return ErrNoConditions
	}
	for _, c := range o.Conds {
		if c == nil {
			return ErrNoConditions
		}
		if v, ok := c.(Validator); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Winner returns the index of the branch that activated, or -1.
func (o *OrCondition) Winner() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.done {
		return -1
	}
	return o.winner
}

func (o *OrCondition) OnParked() {
	o.arm(func(c Condition) { _ = Park(c, o) })
}

func (o *OrCondition) OnLoad() {
	o.arm(func(c Condition) { Load(c, o) })
}

func (o *OrCondition) OnInterrupt() {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	o.done = true
	armed := o.Conds[:o.armed]
	o.mu.Unlock()

	for _, c := range armed {
		Interrupt(c)
	}
}

// arm registers the branches one by one. A branch may win while later
// ones are still unregistered; those are then skipped, and a branch that
// finished registering after another one won is interrupted here.
func (o *OrCondition) arm(register func(Condition)) {
	o.mu.Lock()
	o.armed = 0
	o.done = false
	o.winner = -1
	o.mu.Unlock()

	for i, c := range o.Conds {
		o.mu.Lock()
		if o.done {
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		register(c)

		o.mu.Lock()
		o.armed = i + 1
		lost := o.done && o.winner != i
		o.mu.Unlock()
		if lost {
			Interrupt(c)
			return
		}
	}
}

// Wake implements Owner for the branches.
func (o *OrCondition) Wake(c Condition) {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	idx := -1
	for i, sub := range o.Conds {
		if sub == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		o.mu.Unlock()
		return
	}
	o.done = true
	o.winner = idx
	losers := make([]Condition, 0, o.armed)
	for i, sub := range o.Conds[:o.armed] {
		if i != idx {
			losers = append(losers, sub)
		}
	}
	o.mu.Unlock()

	for _, sub := range losers {
		Interrupt(sub)
	}
	_ = o.Activate(c.Value())
}
