// Package group composes the pathway registry, router, resolver, and UDP
// socket into one multiplexed endpoint.
//
// Typical use:
//
//	g, err := group.New(cfg, logger, metrics.Default())
//	g.Subscribe(group.EventWarning, func(ev group.Event) { ... })
//	err = g.Start(descriptors...)
//	ch, _, _ := g.CreatePathway(pathway.Descriptor{RemoteAddress: "10.0.0.9"})
//	g.Send(payload, pathway.ToPathway("peerA"), nil)
//	defer g.Close()
//
// Events are delivered synchronously to subscribers on the goroutine that
// produced them: message, error (read failures) on the read loop; info,
// warning on the caller of CreatePathway or Start; error (send failures) on
// the sender.
package group
