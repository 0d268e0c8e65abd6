// Package routing decides which destinations receive an event.
//
// A source's routes are loaded on every call, so configuration changes take
// effect for the next event and for replays. Every matching route is
// returned (fan-out), ordered by ord and then by creation. The order only
// sets the submission order into the dispatcher; all matches are delivered.
//
// Patterns are matched against the MIME type with parameters removed:
//
//	application/json            exact, case-insensitive
//	application/*               wildcard; '%' is accepted as well
//	*json*                      any run of characters on either side
//	* or */*                    anything
//
// A route without a pattern matches every event, including events with no
// Content-Type.
package routing
