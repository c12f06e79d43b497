// Package dalma is a durable conversation engine.
//
// Application logic is organised in conversations. Each conversation owns
// one or more fibers, and each fiber runs a Routine: a resumable state
// machine that returns a Condition whenever it has to wait for something
// outside the process, such as a message, a timer or another
// conversation. While it waits no goroutine is held. Once no fiber of a
// conversation is running, the conversation is written to the store, so
// it survives a restart and resumes where it stopped.
//
// # Quick start
//
//	greet := dalma.NewProgram("greet").
//	    Step("wait", dalma.ReceiveWithin("name", time.Minute)).
//	    Step("answer", dalma.Do(func(ctx context.Context, sc *dalma.Scope) error {
//	        if dalma.Expired(sc.Value()) {
//	            return errors.New("nobody answered")
//	        }
//	        fmt.Println("hello", sc.Value())
//	        return nil
//	    }))
//
//	runner, _ := dalma.NewLocalRunner(ctx, greet.Definition())
//	conv, _ := runner.Start(ctx, greet.Start(nil))
//	runner.Deliver("name", "world")
//	runner.Wait(ctx, conv)
//
// # Routines
//
// Programs built with NewProgram cover the common case. For full control,
// implement Routine directly: its exported fields are persisted with
// encoding/gob, so register the type with gob.Register and keep
// everything the routine needs after a suspension in those fields.
//
// # Stores
//
// The default store keeps one directory per conversation under a root
// directory:
//
//	<root>/dalma.xml
//	<root>/conversations/<id>/conversation.xml
//	<root>/conversations/<id>/continuation
//
// SQLite, PostgreSQL, Redis and MongoDB stores hold the same records.
// Open selects one from a Config, typically read with LoadConfig.
//
// # Observability
//
// Engines report to an Observer. Open always installs a LoggingObserver
// and, when enabled in the configuration, Prometheus metrics and
// OpenTelemetry spans from package observe.
package dalma
