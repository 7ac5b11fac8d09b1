// Package ddlog ships application logs to Datadog without making the caller
// wait for the network.
//
// Log calls build a record from the message, the level and the Config
// defaults, then try to put it on an in-memory queue. They never block: when
// a bounded queue is full the record is dropped. A single dispatcher drains
// the queue, groups records into batches of up to 50 and hands each batch to
// a Sender. A partial batch is flushed as soon as the queue runs dry.
//
// Two dispatcher flavours exist:
//
//   - NewBlocking runs the dispatcher on its own goroutine and calls
//     Sender.Send. Close waits for it to finish draining.
//   - NewNonBlockingCold returns a Task for the caller to run; it calls
//     AsyncSender.SendAsync with the Task's context. Close only closes the
//     queue; the Task finishes on its own or is abandoned through its context.
//     NewNonBlockingWithRuntime schedules the Task on a Runtime right away.
//
// Failures never reach the caller of Log. With EnableSelfLog they are
// reported as text on the channel returned by SelfLog; a diagnostic that does
// not fit into that channel is discarded.
//
// Typical usage
//
//	sender, err := ddlog.NewHTTPSender("", apiKey, ddlog.WithGzip(true))
//	if err != nil { return err }
//	logger, err := ddlog.NewBlocking(sender, ddlog.Config{Service: "api", EnableSelfLog: true})
//	if err != nil { return err }
//	defer logger.Close()
//
//	logger.Log("user created", ddlog.LevelInfo)
package ddlog
