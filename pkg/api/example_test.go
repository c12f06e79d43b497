package api_test

import (
	"fmt"

	"github.com/petrijr/dalma/pkg/api"
)

type printOwner struct{}

func (printOwner) Wake(c api.Condition) {
	fmt.Println("woken with", c.Value())
}

// ExampleOr shows the first branch to activate winning an OrCondition.
func ExampleOr() {
	reply := api.NewManual("reply")
	cancel := api.NewManual("cancel")
	or := api.Or(reply, cancel)

	if err := api.Park(or, printOwner{}); err != nil {
		fmt.Println(err)
		return
	}
	_ = reply.Activate("pong")
	_ = cancel.Activate("too late")

	fmt.Println("winner:", or.Winner())
	fmt.Println("cancel interrupted:", cancel.Interrupted())
	// Output:
	// woken with pong
	// winner: 0
	// cancel interrupted: true
}
