package dalma_test

import (
	"context"
	"fmt"

	"github.com/petrijr/dalma"
)

func Example() {
	ctx := context.Background()

	greet := dalma.NewProgram("greet").
		Step("wait-for-name", dalma.Receive("name")).
		Step("say-hello", dalma.Do(func(ctx context.Context, sc *dalma.Scope) error {
			fmt.Println("hello,", sc.Value())
			return nil
		}))

	runner, err := dalma.NewLocalRunner(ctx, greet.Definition())
	if err != nil {
		panic(err)
	}
	defer runner.Stop(ctx)

	conv, err := runner.Start(ctx, greet.Start(nil))
	if err != nil {
		panic(err)
	}
	if _, err := runner.Deliver("name", "world"); err != nil {
		panic(err)
	}
	if err := runner.Wait(ctx, conv); err != nil {
		panic(err)
	}
	// Output: hello, world
}
