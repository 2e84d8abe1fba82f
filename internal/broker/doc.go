// Package broker owns the chat room's connection registry and the content
// filter chain, and serializes every connect, disconnect and send through a
// single dispatch loop.
//
// Connection adapters never touch the registry. They submit events:
//
//	b := broker.New(broker.WithFilters(broker.LengthFilter{MaxLength: 256}))
//	go b.Run()
//
//	ch := broker.NewDeliveryChannel()
//	user := broker.NewUser("Skade")
//	b.Submit(broker.Connect{User: user, Channel: ch})
//	b.Submit(broker.Sending{From: user.ID, Text: "Hello!"})
//	b.Submit(broker.Disconnect{User: user})
//
// Every accepted message is delivered to each registered channel except the
// sender's. Delivery is fire-and-forget: a closed channel is logged and
// skipped.
package broker
