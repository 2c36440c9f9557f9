// Package challenge holds the schedule record shared by the store, the
// scheduler and the chat flow, together with input validation and the
// fire-time rendering of daily posts.
package challenge
